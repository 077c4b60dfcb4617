package realtime

import (
	"context"
	"fmt"
	"log/slog"

	"calvoice/app/client/modelrt"
	"calvoice/app/config"
	"calvoice/app/service/registry"

	"github.com/samber/do"
)

// Service creates one duplex session per accepted client connection.
type Service struct {
	cfg         *config.Config
	modelClient *modelrt.Client
	reg         *registry.Registry
}

func New(di *do.Injector) (*Service, error) {
	return &Service{
		cfg:         do.MustInvoke[*config.Config](di),
		modelClient: do.MustInvoke[*modelrt.Client](di),
		reg:         do.MustInvoke[*registry.Registry](di),
	}, nil
}

// HandleConnection runs a live session for one authenticated client. It
// returns when the client disconnects or the model connection fails;
// reconnecting is the client's responsibility.
func (s *Service) HandleConnection(ctx context.Context, client ClientConn, userID, tzOffset string) error {
	handle, err := s.modelClient.Dial(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to realtime model: %w", err)
	}

	session := NewSession(s.cfg, handle, client, s.reg, userID, tzOffset)

	slog.Info("Realtime session started",
		"user", userID,
		"timezone", tzOffset,
	)
	defer slog.Info("Realtime session finished", "user", userID)

	return session.Run(ctx)
}
