package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ValidationRule is one declarative check applied to a submitted field.
type ValidationRule struct {
	Field string `json:"field" validate:"required"`
	Type  string `json:"type" validate:"required,oneof=email min_length max_length regex"`
	Value string `json:"value"`
}

// ApiConfig is the tenant-scoped configuration of one public submission
// endpoint. ApiHash addresses the endpoint, ApiKey authenticates callers;
// both are generated once and never change afterwards.
type ApiConfig struct {
	Id     string `json:"id" gorm:"primaryKey"`
	FormID string `json:"form_id" gorm:"index;not null"`

	ApiHash  string `json:"api_hash" gorm:"uniqueIndex;not null"`
	ApiKey   string `json:"-" gorm:"uniqueIndex;not null"`
	IsActive bool   `json:"is_active" gorm:"default:true"`

	CorsEnabled    bool     `json:"cors_enabled"`
	AllowedOrigins []string `json:"allowed_origins" gorm:"serializer:json"`

	CaptchaType      string `json:"captcha_type"` // "", recaptcha_v2, recaptcha_v3, hcaptcha
	CaptchaSecretKey string `json:"-"`

	HoneypotFieldName string           `json:"honeypot_field_name"`
	RequiredFields    []string         `json:"required_fields" gorm:"serializer:json"`
	ValidationRules   []ValidationRule `json:"validation_rules" gorm:"serializer:json"`

	RateLimitPerMinute int `json:"rate_limit_per_minute" gorm:"default:60"`
	RateLimitPerHour   int `json:"rate_limit_per_hour" gorm:"default:1000"`
	RateLimitPerDay    int `json:"rate_limit_per_day" gorm:"default:10000"`

	// Open-ended by design: tenants may shape the success response freely.
	CustomResponseData datatypes.JSON `json:"custom_response_data" gorm:"type:jsonb"`

	LastUsedAt *time.Time `json:"last_used_at"`
	CreatedAt  time.Time  `json:"created_at"`
}

func (cfg *ApiConfig) BeforeCreate(tx *gorm.DB) (err error) {
	if cfg.Id == "" {
		cfg.Id = uuid.NewString()
	}
	if cfg.ApiHash == "" {
		cfg.ApiHash = strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	if cfg.ApiKey == "" {
		cfg.ApiKey = "sk_" + strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
	}
	return
}

// OriginAllowed reports whether origin matches the allow-list. Entries may be
// exact origins or "*.domain" wildcards (suffix match on ".domain").
func (cfg *ApiConfig) OriginAllowed(origin string) bool {
	if !cfg.CorsEnabled || len(cfg.AllowedOrigins) == 0 {
		return true
	}
	origin = strings.TrimSpace(origin)
	host := origin
	if i := strings.Index(host, "://"); i >= 0 {
		host = host[i+3:]
	}
	for _, allowed := range cfg.AllowedOrigins {
		allowed = strings.TrimSpace(allowed)
		if allowed == "" {
			continue
		}
		if allowed == "*" || allowed == origin {
			return true
		}
		if strings.HasPrefix(allowed, "*.") {
			suffix := allowed[1:] // ".domain"
			if strings.HasSuffix(host, suffix) || host == allowed[2:] {
				return true
			}
		}
	}
	return false
}
