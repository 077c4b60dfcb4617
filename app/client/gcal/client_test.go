package gcal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"

	"calvoice/app/config"
	"calvoice/app/service/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func newTestClient() *Client {
	return &Client{
		cfg: &config.Config{
			Google: config.Google{
				ClientID:     "client-id",
				ClientSecret: "client-secret",
			},
		},
	}
}

func TestHTTPClientImposesNoTimeout(t *testing.T) {
	client := newTestClient()

	httpClient := client.httpClient(context.Background(), store.Credentials{
		AccessToken:  "access",
		RefreshToken: "refresh",
	})

	assert.Zero(t, httpClient.Timeout)
}

func TestClassifyError(t *testing.T) {
	retrieveErr := &oauth2.RetrieveError{ErrorCode: "invalid_grant"}
	wrapped := fmt.Errorf("Get \"...\": %w", retrieveErr)

	assert.ErrorIs(t, classifyError(wrapped), ErrCredentialsExpired)

	plain := errors.New("connection refused")
	assert.Equal(t, plain, classifyError(plain))
}

func responseWith(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func TestCheckStatus(t *testing.T) {
	assert.NoError(t, checkStatus(responseWith(http.StatusOK, "")))

	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		err := checkStatus(responseWith(status, ""))
		assert.ErrorIs(t, err, ErrCredentialsExpired, "status %d", status)
	}

	err := checkStatus(responseWith(http.StatusServiceUnavailable, "backend unavailable\n"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCredentialsExpired)
	assert.Contains(t, err.Error(), "503")
	assert.Contains(t, err.Error(), "backend unavailable")
}
