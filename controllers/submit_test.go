package controllers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"sheettree-backend/captcha"
	"sheettree-backend/database"
	"sheettree-backend/limiter"
	"sheettree-backend/middlewares"
	"sheettree-backend/models"
	"sheettree-backend/oauth"
	"sheettree-backend/sheets"
	"sheettree-backend/spam"
	"sheettree-backend/usage"
)

// fakeSheetAPI is a minimal stand-in for the destination values API.
type fakeSheetAPI struct {
	mu         sync.Mutex
	headers    []string
	rows       [][]string
	failAppend bool
}

func (f *fakeSheetAPI) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		switch {
		case r.Method == http.MethodGet:
			var out struct {
				Values [][]string `json:"values,omitempty"`
			}
			if len(f.headers) > 0 {
				out.Values = [][]string{f.headers}
			}
			json.NewEncoder(w).Encode(out)
		case r.Method == http.MethodPut:
			var body struct {
				Values [][]string `json:"values"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			if len(body.Values) > 0 {
				f.headers = append(f.headers, body.Values[0]...)
			}
			w.Write([]byte("{}"))
		case r.Method == http.MethodPost && strings.Contains(r.URL.Path, ":append"):
			if f.failAppend {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			var body struct {
				Values [][]string `json:"values"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			if len(body.Values) > 0 {
				f.rows = append(f.rows, body.Values[0])
			}
			w.Write([]byte("{}"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

type submitEnv struct {
	app  *fiber.App
	cfg  *models.ApiConfig
	fake *fakeSheetAPI
}

func newSubmitEnv(t *testing.T, mutate func(cfg *models.ApiConfig)) *submitEnv {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}
	err = db.AutoMigrate(&models.User{}, &models.Form{}, &models.ApiConfig{},
		&models.ConnectedSheet{}, &models.Submission{}, &models.UsageAggregate{},
		&models.OAuthCredential{})
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	database.DB = db

	user := models.User{FirstName: "T", LastName: "U", Email: t.Name() + "@test.local"}
	user.SetPassword("secret123")
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("user: %v", err)
	}
	form := models.Form{UserId: user.Id, Name: "Contact"}
	if err := db.Create(&form).Error; err != nil {
		t.Fatalf("form: %v", err)
	}
	cfg := models.ApiConfig{FormID: form.Id, HoneypotFieldName: "_gotcha"}
	if mutate != nil {
		mutate(&cfg)
	}
	if err := db.Create(&cfg).Error; err != nil {
		t.Fatalf("config: %v", err)
	}
	sheet := models.ConnectedSheet{FormID: form.Id, SpreadsheetID: "ss1", SheetName: "Sheet1"}
	if err := db.Create(&sheet).Error; err != nil {
		t.Fatalf("sheet: %v", err)
	}
	exp := time.Now().Add(time.Hour)
	cred := models.OAuthCredential{UserID: user.Id, AccessToken: "tok", RefreshToken: "ref", ExpiresAt: &exp}
	if err := db.Create(&cred).Error; err != nil {
		t.Fatalf("credential: %v", err)
	}

	fake := &fakeSheetAPI{}
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)

	manager := oauth.NewManager(db, oauth.Config{TokenURL: "http://unused.local"})
	rec := usage.NewRecorder(db)
	lim := limiter.New(limiter.NewMemoryStore())
	syncer := sheets.NewSyncer(sheets.NewClientWithBase(srv.URL, srv.Client()), manager)
	InitSubmitPipeline(spam.NewChecker(lim), captcha.New(), syncer, rec)

	app := fiber.New(fiber.Config{ErrorHandler: middlewares.ErrorHandler})
	app.Post("/submit/:apiHash", middlewares.Gatekeeper(lim, rec), Submit)
	app.Options("/submit/:apiHash", middlewares.Gatekeeper(lim, rec))

	return &submitEnv{app: app, cfg: &cfg, fake: fake}
}

func (e *submitEnv) submit(t *testing.T, key string, payload string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/submit/"+e.cfg.ApiHash, bytes.NewReader([]byte(payload)))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	resp, err := e.app.Test(req, 10000)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	raw, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		t.Fatalf("bad response body %q: %v", raw, err)
	}
	return body
}

func TestSubmitEndToEnd(t *testing.T) {
	env := newSubmitEnv(t, nil)

	resp := env.submit(t, env.cfg.ApiKey, `{"a":"1","b":"2"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if resp.Header.Get("X-RateLimit-Limit") == "" || resp.Header.Get("X-RateLimit-Remaining") == "" {
		t.Error("rate limit headers missing")
	}
	body := decodeBody(t, resp)
	if body["success"] != true {
		t.Fatalf("body = %v", body)
	}

	if len(env.fake.headers) != 3 || env.fake.headers[2] != "Submitted At" {
		t.Errorf("headers = %v", env.fake.headers)
	}
	if len(env.fake.rows) != 1 {
		t.Fatalf("rows = %v", env.fake.rows)
	}

	var sub models.Submission
	if err := database.DB.First(&sub).Error; err != nil {
		t.Fatalf("submission row: %v", err)
	}
	if !sub.SheetWritten || sub.IsSpam {
		t.Errorf("submission = %+v", sub)
	}

	var agg models.UsageAggregate
	if err := database.DB.First(&agg).Error; err != nil {
		t.Fatalf("usage row: %v", err)
	}
	if agg.TotalRequests != 1 || agg.SuccessfulRequests != 1 {
		t.Errorf("usage = %+v", agg)
	}
}

func TestSubmitInvalidKey(t *testing.T) {
	env := newSubmitEnv(t, nil)

	resp := env.submit(t, "wrong-key", `{"a":"1"}`)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["success"] != false {
		t.Errorf("body = %v", body)
	}
	if len(env.fake.rows) != 0 {
		t.Error("nothing may reach the sheet")
	}
}

func TestSubmitInactiveConfig(t *testing.T) {
	env := newSubmitEnv(t, func(cfg *models.ApiConfig) {
		cfg.IsActive = false
	})
	// The default:true tag swallows a zero-value IsActive on create.
	database.DB.Model(env.cfg).Update("is_active", false)

	resp := env.submit(t, env.cfg.ApiKey, `{"a":"1"}`)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestSubmitHoneypot(t *testing.T) {
	env := newSubmitEnv(t, nil)

	resp := env.submit(t, env.cfg.ApiKey, `{"name":"x","_gotcha":"bot"}`)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["error"] != "Honeypot field filled" {
		t.Errorf("body = %v", body)
	}

	var sub models.Submission
	database.DB.First(&sub)
	if !sub.IsSpam || sub.SpamReason != "Honeypot field filled" {
		t.Errorf("audit row = %+v", sub)
	}
	if len(env.fake.rows) != 0 {
		t.Error("spam must not reach the sheet")
	}
}

func TestSubmitRateLimited(t *testing.T) {
	env := newSubmitEnv(t, func(cfg *models.ApiConfig) {
		cfg.RateLimitPerMinute = 2
	})

	env.submit(t, env.cfg.ApiKey, `{"a":"1"}`)
	env.submit(t, env.cfg.ApiKey, `{"a":"2"}`)
	resp := env.submit(t, env.cfg.ApiKey, `{"a":"3"}`)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Error("Retry-After header missing")
	}
	if resp.Header.Get("X-RateLimit-Remaining") != "0" {
		t.Errorf("remaining = %q", resp.Header.Get("X-RateLimit-Remaining"))
	}
}

func TestSubmitValidationFailure(t *testing.T) {
	env := newSubmitEnv(t, func(cfg *models.ApiConfig) {
		cfg.RequiredFields = []string{"email"}
		cfg.ValidationRules = []models.ValidationRule{{Field: "email", Type: "email"}}
	})

	resp := env.submit(t, env.cfg.ApiKey, `{"name":"x"}`)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	ve, ok := body["validation_errors"].(map[string]any)
	if !ok || ve["email"] != "required" {
		t.Errorf("validation_errors = %v", body["validation_errors"])
	}
	if len(env.fake.rows) != 0 {
		t.Error("invalid payload must not reach the sheet")
	}
}

func TestSubmitSheetFailureKeepsAuditRow(t *testing.T) {
	env := newSubmitEnv(t, nil)
	env.fake.failAppend = true

	resp := env.submit(t, env.cfg.ApiKey, `{"a":"1"}`)
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["success"] != false {
		t.Errorf("body = %v", body)
	}

	// The accepted submission survives with the failure recorded.
	var sub models.Submission
	if err := database.DB.First(&sub).Error; err != nil {
		t.Fatalf("submission row: %v", err)
	}
	if sub.SheetWritten || sub.SheetError == nil {
		t.Errorf("submission = %+v", sub)
	}

	var agg models.UsageAggregate
	database.DB.First(&agg)
	if agg.FailedRequests != 1 {
		t.Errorf("usage = %+v", agg)
	}
}

func TestSubmitCorsPreflight(t *testing.T) {
	env := newSubmitEnv(t, func(cfg *models.ApiConfig) {
		cfg.CorsEnabled = true
		cfg.AllowedOrigins = []string{"https://example.com", "*.trusted.dev"}
	})

	req := httptest.NewRequest(http.MethodOptions, "/submit/"+env.cfg.ApiHash, nil)
	req.Header.Set("Origin", "https://app.trusted.dev")
	resp, err := env.app.Test(req, 10000)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "https://app.trusted.dev" {
		t.Errorf("allow-origin = %q", got)
	}

	req = httptest.NewRequest(http.MethodOptions, "/submit/"+env.cfg.ApiHash, nil)
	req.Header.Set("Origin", "https://evil.example.net")
	resp, _ = env.app.Test(req, 10000)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want 403", resp.StatusCode)
	}
}

func TestSubmitOriginRejected(t *testing.T) {
	env := newSubmitEnv(t, func(cfg *models.ApiConfig) {
		cfg.CorsEnabled = true
		cfg.AllowedOrigins = []string{"https://example.com"}
	})

	req := httptest.NewRequest(http.MethodPost, "/submit/"+env.cfg.ApiHash, bytes.NewReader([]byte(`{"a":"1"}`)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+env.cfg.ApiKey)
	req.Header.Set("Origin", "https://evil.example.net")
	resp, err := env.app.Test(req, 10000)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}
}
