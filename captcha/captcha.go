package captcha

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"sheettree-backend/logger"
)

// provider describes one supported CAPTCHA backend. The set is closed;
// adding a provider means adding a table entry, nothing else.
type provider struct {
	ResponseField string
	VerifyURL     string
}

const (
	RecaptchaV2 = "recaptcha_v2"
	RecaptchaV3 = "recaptcha_v3"
	HCaptcha    = "hcaptcha"
)

func defaultProviders() map[string]provider {
	return map[string]provider{
		RecaptchaV2: {ResponseField: "g-recaptcha-response", VerifyURL: "https://www.google.com/recaptcha/api/siteverify"},
		RecaptchaV3: {ResponseField: "g-recaptcha-response", VerifyURL: "https://www.google.com/recaptcha/api/siteverify"},
		HCaptcha:    {ResponseField: "h-captcha-response", VerifyURL: "https://hcaptcha.com/siteverify"},
	}
}

// Verifier checks submitted CAPTCHA tokens against the configured provider.
// Every failure mode (missing token, unknown provider, network error,
// negative provider response) verifies as false; the verifier never fails
// open.
type Verifier struct {
	client    *http.Client
	providers map[string]provider
}

func New() *Verifier {
	return &Verifier{
		client:    &http.Client{Timeout: 10 * time.Second},
		providers: defaultProviders(),
	}
}

// NewWithEndpoints overrides provider verify URLs; used by tests.
func NewWithEndpoints(client *http.Client, endpoints map[string]string) *Verifier {
	v := New()
	if client != nil {
		v.client = client
	}
	for tag, u := range endpoints {
		p, ok := v.providers[tag]
		if !ok {
			continue
		}
		p.VerifyURL = u
		v.providers[tag] = p
	}
	return v
}

// Verify extracts the provider token from the payload and checks it. A
// missing token fails immediately without a network call.
func (v *Verifier) Verify(ctx context.Context, providerTag, secret string, payload map[string]string) bool {
	p, ok := v.providers[providerTag]
	if !ok {
		logger.Warn("captcha: unknown provider %q", providerTag)
		return false
	}

	token := strings.TrimSpace(payload[p.ResponseField])
	if token == "" {
		return false
	}

	form := url.Values{}
	form.Set("secret", secret)
	form.Set("response", token)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.VerifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.client.Do(req)
	if err != nil {
		logger.Warn("captcha: %s verification request failed: %v", providerTag, err)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		logger.Warn("captcha: %s verification returned status %d", providerTag, resp.StatusCode)
		return false
	}

	var body struct {
		Success bool `json:"success"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false
	}
	return body.Success
}
