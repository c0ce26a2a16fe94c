package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Connect-flow settings; only the thin connect/callback surface uses these.
type ConnectConfig struct {
	AuthorizeURL string
	RedirectURI  string
	Scopes       []string
}

// AuthCodeURL builds the provider consent URL for the connect flow.
func (m *Manager) AuthCodeURL(cc ConnectConfig, state string) string {
	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", m.cfg.ClientID)
	q.Set("redirect_uri", cc.RedirectURI)
	q.Set("scope", strings.Join(cc.Scopes, " "))
	q.Set("state", state)
	q.Set("access_type", "offline")
	q.Set("prompt", "consent")
	return cc.AuthorizeURL + "?" + q.Encode()
}

// Exchange swaps an authorization code for tokens and stores them for the
// user, replacing any previous credential.
func (m *Manager) Exchange(ctx context.Context, userID, code, redirectURI string) error {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", redirectURI)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(m.cfg.ClientID, m.cfg.ClientSecret)

	resp, err := m.cfg.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("token endpoint status %d", resp.StatusCode)
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return err
	}
	if tr.AccessToken == "" {
		return errors.New("empty access token")
	}

	return m.Store(userID, tr.AccessToken, tr.RefreshToken, tr.ExpiresIn)
}
