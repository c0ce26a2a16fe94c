package middlewares

import (
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"sheettree-backend/database"
	"sheettree-backend/limiter"
	"sheettree-backend/logger"
	"sheettree-backend/models"
	"sheettree-backend/pipeline"
	"sheettree-backend/usage"
)

// Locals keys shared with the submit controller.
const (
	LocalsApiConfig = "apiConfig"
	LocalsStartedAt = "startedAt"
)

// RatePolicies builds the named sliding-window policies for one config.
// The per-minute policy comes first: it is the tightest window and the one
// reported in the X-RateLimit headers.
func RatePolicies(cfg *models.ApiConfig) []limiter.Policy {
	return []limiter.Policy{
		{Name: "minute", Limit: cfg.RateLimitPerMinute, Window: time.Minute},
		{Name: "hour", Limit: cfg.RateLimitPerHour, Window: time.Hour},
		{Name: "day", Limit: cfg.RateLimitPerDay, Window: 24 * time.Hour},
	}
}

// Gatekeeper is the first pipeline stage on the public submit endpoint:
// API key/hash validation, per-tenant CORS, and sliding-window rate
// limiting. Rejections are terminal but still recorded in the audit trail
// and the daily usage aggregate.
func Gatekeeper(lim *limiter.Limiter, rec *usage.Recorder) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		c.Locals(LocalsStartedAt, start)

		hash := c.Params("apiHash")

		var cfg models.ApiConfig
		if err := database.DB.Where("api_hash = ?", hash).First(&cfg).Error; err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				logger.Error("gatekeeper: config lookup failed: %v", err)
			}
			return writeReject(c, pipeline.Errorf(pipeline.KeyInvalid, "invalid API key"))
		}

		origin := c.Get("Origin")
		allowed := cfg.OriginAllowed(origin)
		if cfg.CorsEnabled && origin != "" && allowed {
			c.Set("Access-Control-Allow-Origin", origin)
			c.Set("Access-Control-Allow-Methods", "POST, OPTIONS")
			c.Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			c.Set("Vary", "Origin")
		}

		// Preflight is answered before any limit is consumed.
		if c.Method() == fiber.MethodOptions {
			if !allowed {
				return c.SendStatus(fiber.StatusForbidden)
			}
			return c.SendStatus(fiber.StatusNoContent)
		}

		if key := BearerToken(c); key == "" || key != cfg.ApiKey || !cfg.IsActive {
			return writeReject(c, pipeline.Errorf(pipeline.KeyInvalid, "invalid API key"))
		}

		if !allowed {
			perr := pipeline.Errorf(pipeline.OriginRejected, "origin not allowed")
			recordReject(c, rec, &cfg, start)
			return writeReject(c, perr)
		}

		// Identifier is the authenticated principal; the caller IP covers
		// the (unreachable here) anonymous case.
		identifier := cfg.ApiHash
		if identifier == "" {
			identifier = c.IP()
		}
		res := lim.AllowAll(identifier, RatePolicies(&cfg), start)
		setRateHeaders(c, res)
		if !res.Allowed {
			perr := &pipeline.Error{
				Kind:              pipeline.RateLimited,
				Message:           "rate limit exceeded",
				RetryAfterSeconds: int(res.RetryAfter.Round(time.Second).Seconds()),
			}
			c.Set("Retry-After", strconv.Itoa(perr.RetryAfterSeconds))
			recordReject(c, rec, &cfg, start)
			return writeReject(c, perr)
		}

		c.Locals(LocalsApiConfig, &cfg)
		return c.Next()
	}
}

func setRateHeaders(c *fiber.Ctx, res limiter.Result) {
	c.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	c.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	c.Set("X-RateLimit-Reset", strconv.FormatInt(res.Reset.Unix(), 10))
}

func writeReject(c *fiber.Ctx, perr *pipeline.Error) error {
	body := fiber.Map{"success": false, "error": perr.Message}
	if perr.Kind == pipeline.RateLimited {
		body["retry_after"] = perr.RetryAfterSeconds
	}
	return c.Status(perr.StatusCode()).JSON(body)
}

// recordReject persists the audit row and usage counters for a request the
// gatekeeper turned away after the key check passed.
func recordReject(c *fiber.Ctx, rec *usage.Recorder, cfg *models.ApiConfig, start time.Time) {
	sub := models.Submission{
		ApiConfigID: cfg.Id,
		IPAddress:   c.IP(),
		Origin:      c.Get("Origin"),
	}
	if raw := c.Body(); json.Valid(raw) {
		sub.RawPayload = append([]byte(nil), raw...)
	}
	if err := rec.Audit(&sub); err != nil {
		logger.Error("gatekeeper: audit write failed: %v", err)
	}
	ms := float64(time.Since(start).Microseconds()) / 1000
	if err := rec.Record(cfg.Id, c.IP(), false, ms, time.Now()); err != nil {
		logger.Error("gatekeeper: usage record failed: %v", err)
	}
}
