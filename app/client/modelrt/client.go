package modelrt

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"calvoice/app/config"

	"github.com/gorilla/websocket"
	"github.com/samber/do"
)

// Client dials the hosted realtime speech model. One Handle per live session.
type Client struct {
	cfg *config.Config
}

func NewClient(di *do.Injector) (*Client, error) {
	return &Client{
		cfg: do.MustInvoke[*config.Config](di),
	}, nil
}

func (c *Client) Dial(ctx context.Context) (*Handle, error) {
	endpoint, err := url.Parse(c.cfg.OpenAI.Realtime.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid realtime base url: %w", err)
	}

	query := endpoint.Query()
	query.Set("model", c.cfg.OpenAI.Realtime.Model)
	endpoint.RawQuery = query.Encode()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.cfg.OpenAI.Token)
	header.Set("OpenAI-Beta", "realtime=v1")

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, endpoint.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to dial realtime model (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to dial realtime model: %w", err)
	}

	return &Handle{
		conn: conn,
	}, nil
}
