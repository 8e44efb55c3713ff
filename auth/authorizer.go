package auth

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/austinwade/sitechat/types"
)

// Authorizer obtains a channel authorization token for a socket. The presence
// client calls it on every (re)subscribe.
type Authorizer interface {
	Authorize(socketId, channel string, member types.Member) (string, error)
}

// HTTPAuthorizer requests tokens from the site's auth endpoint.
type HTTPAuthorizer struct {
	Endpoint string
	Client   *http.Client
}

func NewHTTPAuthorizer(endpoint string) *HTTPAuthorizer {
	return &HTTPAuthorizer{
		Endpoint: endpoint,
		Client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (a *HTTPAuthorizer) Authorize(socketId, channel string, member types.Member) (string, error) {
	body, err := json.Marshal(AuthRequest{SocketId: socketId, Channel: channel, Member: member})
	if err != nil {
		return "", err
	}
	resp, err := a.Client.Post(a.Endpoint, "application/json", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("could not reach auth endpoint: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("authorization denied: %s", resp.Status)
	}
	authResp := AuthResponse{}
	if err := json.NewDecoder(resp.Body).Decode(&authResp); err != nil {
		return "", fmt.Errorf("could not decode auth response: %w", err)
	}
	if authResp.Auth == "" {
		return "", fmt.Errorf("empty auth token")
	}
	return authResp.Auth, nil
}

// StaticAuthorizer signs tokens locally, used by the terminal client and tests
// when it holds the app secret itself.
type StaticAuthorizer struct {
	AppKey    string
	AppSecret string
}

func (a StaticAuthorizer) Authorize(socketId, channel string, member types.Member) (string, error) {
	return Sign(a.AppKey, a.AppSecret, socketId, channel, member)
}
