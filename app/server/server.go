package server

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"calvoice/app/config"
	"calvoice/app/service/agent"
	"calvoice/app/service/auth"
	"calvoice/app/service/realtime"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/samber/do"
)

const shutdownTimeout = 5 * time.Second

type chatRequest struct {
	Message string `json:"message"`
	// Timezone offset in format "+05:30" or "-05:00"
	Timezone string `json:"timezone"`
}

type Service struct {
	cfg         *config.Config
	appCtx      context.Context
	authSvc     *auth.Service
	agentSvc    *agent.Service
	realtimeSvc *realtime.Service

	app *fiber.App
}

func New(di *do.Injector) (*Service, error) {
	s := &Service{
		cfg:         do.MustInvoke[*config.Config](di),
		appCtx:      do.MustInvoke[context.Context](di),
		authSvc:     do.MustInvoke[*auth.Service](di),
		agentSvc:    do.MustInvoke[*agent.Service](di),
		realtimeSvc: do.MustInvoke[*realtime.Service](di),
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	app.Post("/chat", s.requireAuth, s.handleChat)

	app.Use("/realtime", s.upgradeRealtime)
	app.Get("/realtime", websocket.New(s.handleRealtime))

	s.app = app

	return s, nil
}

func (s *Service) Run(ctx context.Context) error {
	errChan := make(chan error, 1)

	go func() {
		errChan <- s.app.Listen(s.cfg.Server.Addr)
	}()

	slog.Info("Server listening", "addr", s.cfg.Server.Addr)

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		return s.app.ShutdownWithTimeout(shutdownTimeout)
	}
}

func bearerToken(header string) string {
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}

func (s *Service) requireAuth(c *fiber.Ctx) error {
	token := bearerToken(c.Get(fiber.HeaderAuthorization))
	if token == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "not authenticated"})
	}

	userID, err := s.authSvc.Verify(token)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid token"})
	}

	c.Locals("user_id", userID)

	return c.Next()
}

func (s *Service) handleChat(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(string)

	var req chatRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	if req.Timezone == "" {
		req.Timezone = "+00:00"
	}

	start := time.Now()
	reply, err := s.agentSvc.Process(c.Context(), userID, req.Message, req.Timezone)
	if err != nil {
		slog.Error("Chat request failed",
			"user", userID,
			"error", err,
			"telegram", true,
		)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}

	slog.Info("Processed chat message",
		"user", userID,
		"duration", time.Since(start),
	)

	return c.JSON(fiber.Map{"response": reply})
}

// upgradeRealtime authenticates before the websocket upgrade; the streaming
// entry point accepts the credential via query param or bearer header.
func (s *Service) upgradeRealtime(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}

	token := c.Query("token")
	if token == "" {
		token = bearerToken(c.Get(fiber.HeaderAuthorization))
	}

	if token == "" {
		return c.SendStatus(fiber.StatusUnauthorized)
	}

	userID, err := s.authSvc.Verify(token)
	if err != nil {
		return c.SendStatus(fiber.StatusUnauthorized)
	}

	c.Locals("user_id", userID)
	c.Locals("timezone", c.Query("timezone", "+00:00"))

	return c.Next()
}

func (s *Service) handleRealtime(conn *websocket.Conn) {
	defer conn.Close()

	userID := conn.Locals("user_id").(string)
	tzOffset := conn.Locals("timezone").(string)

	if err := s.realtimeSvc.HandleConnection(s.appCtx, conn, userID, tzOffset); err != nil {
		slog.Error("Realtime session failed",
			"user", userID,
			"error", err,
			"telegram", true,
		)
	}
}
