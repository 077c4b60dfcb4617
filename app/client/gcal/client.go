package gcal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"calvoice/app/config"
	"calvoice/app/service/store"

	"github.com/samber/do"
	"golang.org/x/oauth2"
)

const (
	eventsURL = "https://www.googleapis.com/calendar/v3/calendars/primary/events"
	tokenURL  = "https://oauth2.googleapis.com/token"
)

// ErrCredentialsExpired marks a failed token refresh or a rejected token;
// the only remediation is a fresh login.
var ErrCredentialsExpired = errors.New("calendar credentials expired")

type Client struct {
	cfg *config.Config
}

func NewClient(di *do.Injector) (*Client, error) {
	return &Client{
		cfg: do.MustInvoke[*config.Config](di),
	}, nil
}

// httpClient builds a per-user client whose transport refreshes the access
// token on demand. The stored access token is treated as stale so the first
// request always revalidates against the token endpoint.
func (c *Client) httpClient(ctx context.Context, creds store.Credentials) *http.Client {
	conf := &oauth2.Config{
		ClientID:     c.cfg.Google.ClientID,
		ClientSecret: c.cfg.Google.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL: tokenURL,
		},
	}

	token := &oauth2.Token{
		AccessToken:  creds.AccessToken,
		RefreshToken: creds.RefreshToken,
		Expiry:       time.Now().Add(-time.Minute),
	}

	// No client-side timeout: a slow calendar call stalls only the tool
	// result it belongs to, and ctx already bounds the request lifetime.
	return oauth2.NewClient(ctx, conf.TokenSource(ctx, token))
}

func classifyError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		return fmt.Errorf("%w: %v", ErrCredentialsExpired, retrieveErr.ErrorCode)
	}

	return err
}

// ListEvents returns single events overlapping [timeMin, timeMax) in the
// calendar's own chronological order.
func (c *Client) ListEvents(ctx context.Context, creds store.Credentials, timeMin, timeMax string) ([]Event, error) {
	query := url.Values{}
	query.Set("timeMin", timeMin)
	query.Set("timeMax", timeMax)
	query.Set("singleEvents", "true")
	query.Set("orderBy", "startTime")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, eventsURL+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.httpClient(ctx, creds).Do(req)
	if err != nil {
		return nil, classifyError(err)
	}
	defer resp.Body.Close()

	if err = checkStatus(resp); err != nil {
		return nil, err
	}

	var list eventList
	if err = json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("failed to decode event list: %w", err)
	}

	return list.Items, nil
}

func (c *Client) InsertEvent(ctx context.Context, creds store.Credentials, input EventInput) (*Event, error) {
	body, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, eventsURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient(ctx, creds).Do(req)
	if err != nil {
		return nil, classifyError(err)
	}
	defer resp.Body.Close()

	if err = checkStatus(resp); err != nil {
		return nil, err
	}

	var created Event
	if err = json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return nil, fmt.Errorf("failed to decode created event: %w", err)
	}

	if created.ID == "" {
		return nil, fmt.Errorf("calendar API returned no event id")
	}

	return &created, nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%w: calendar API status %d", ErrCredentialsExpired, resp.StatusCode)
	}

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	return fmt.Errorf("calendar API status %d: %s", resp.StatusCode, bytes.TrimSpace(data))
}
