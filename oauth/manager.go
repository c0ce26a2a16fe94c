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
	"time"

	"sheettree-backend/logger"
	"sheettree-backend/models"

	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

// Config carries the token-endpoint settings for the destination provider.
type Config struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	HTTPClient   *http.Client
}

// Manager owns the stored OAuth credentials: it hands out valid access
// tokens and performs the refresh-token grant when the stored one has
// expired. Refreshes for the same user are deduplicated so concurrent
// requests cannot race an in-flight refresh token.
type Manager struct {
	db    *gorm.DB
	cfg   Config
	group singleflight.Group
}

func NewManager(db *gorm.DB, cfg Config) *Manager {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Manager{db: db, cfg: cfg}
}

// EnsureValid returns a credential whose access token is usable right now,
// refreshing and persisting it first when necessary.
func (m *Manager) EnsureValid(ctx context.Context, userID string) (*models.OAuthCredential, error) {
	cred, err := m.load(userID)
	if err != nil {
		return nil, err
	}
	if !cred.Expired(time.Now()) {
		return cred, nil
	}

	v, err, _ := m.group.Do(userID, func() (interface{}, error) {
		// A concurrent flight may have refreshed while we waited.
		cur, err := m.load(userID)
		if err != nil {
			return nil, err
		}
		if !cur.Expired(time.Now()) {
			return cur, nil
		}
		return m.refresh(ctx, cur)
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.OAuthCredential), nil
}

// AccessToken implements sheets.TokenSource.
func (m *Manager) AccessToken(ctx context.Context, userID string) (string, error) {
	cred, err := m.EnsureValid(ctx, userID)
	if err != nil {
		return "", err
	}
	return cred.AccessToken, nil
}

func (m *Manager) load(userID string) (*models.OAuthCredential, error) {
	var cred models.OAuthCredential
	if err := m.db.Where("user_id = ?", userID).First(&cred).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.New("no credential")
		}
		return nil, fmt.Errorf("credential lookup failed: %w", err)
	}
	return &cred, nil
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// refresh exchanges the stored refresh token for a new access token and
// persists the result. The provider may rotate the refresh token; when it
// does, the rotated one replaces the stored one (last writer wins).
func (m *Manager) refresh(ctx context.Context, cred *models.OAuthCredential) (*models.OAuthCredential, error) {
	if cred.RefreshToken == "" {
		return nil, errors.New("refresh failed: missing refresh token")
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", cred.RefreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("refresh failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(m.cfg.ClientID, m.cfg.ClientSecret)

	resp, err := m.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("refresh failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Token endpoint error bodies stay out of the error; they can echo
		// request parameters.
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("refresh failed: token endpoint status %d", resp.StatusCode)
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, fmt.Errorf("refresh failed: invalid token response: %w", err)
	}
	if tr.AccessToken == "" {
		return nil, errors.New("refresh failed: empty access token")
	}

	cred.AccessToken = tr.AccessToken
	if tr.RefreshToken != "" {
		cred.RefreshToken = tr.RefreshToken
	}
	if tr.ExpiresIn > 0 {
		exp := time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second)
		cred.ExpiresAt = &exp
	} else {
		cred.ExpiresAt = nil
	}

	if err := m.db.Save(cred).Error; err != nil {
		return nil, fmt.Errorf("refresh failed: persist: %w", err)
	}

	logger.Info("oauth: refreshed credential for user %s", cred.UserID)
	return cred, nil
}

// Store upserts the credential for a user after an authorization-code
// exchange. One live row per user.
func (m *Manager) Store(userID, accessToken, refreshToken string, expiresIn int64) error {
	var expiresAt *time.Time
	if expiresIn > 0 {
		exp := time.Now().Add(time.Duration(expiresIn) * time.Second)
		expiresAt = &exp
	}

	var cred models.OAuthCredential
	err := m.db.Where("user_id = ?", userID).First(&cred).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		cred = models.OAuthCredential{
			UserID:       userID,
			AccessToken:  accessToken,
			RefreshToken: refreshToken,
			ExpiresAt:    expiresAt,
		}
		return m.db.Create(&cred).Error
	}
	if err != nil {
		return err
	}

	cred.AccessToken = accessToken
	if refreshToken != "" {
		cred.RefreshToken = refreshToken
	}
	cred.ExpiresAt = expiresAt
	return m.db.Save(&cred).Error
}
