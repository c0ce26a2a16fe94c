package controllers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"sheettree-backend/captcha"
	"sheettree-backend/database"
	"sheettree-backend/logger"
	"sheettree-backend/middlewares"
	"sheettree-backend/models"
	"sheettree-backend/pipeline"
	"sheettree-backend/sheets"
	"sheettree-backend/spam"
	"sheettree-backend/usage"
)

var (
	spamChecker     *spam.Checker
	captchaVerifier *captcha.Verifier
	sheetSyncer     *sheets.Syncer
	recorder        *usage.Recorder
)

// InitSubmitPipeline wires the pipeline stages used by Submit.
func InitSubmitPipeline(sc *spam.Checker, cv *captcha.Verifier, sy *sheets.Syncer, rec *usage.Recorder) {
	spamChecker = sc
	captchaVerifier = cv
	sheetSyncer = sy
	recorder = rec
}

// Submit handles POST /submit/:apiHash. The gatekeeper middleware has
// already validated key, origin and rate limits; the remaining stages run
// cheapest first and the first terminal error short-circuits the rest.
// A sheet-write failure is the one non-terminal case for the audit trail:
// the submission row is kept with the failure recorded, while the response
// still reports the failure to the caller.
func Submit(c *fiber.Ctx) error {
	cfg, _ := c.Locals(middlewares.LocalsApiConfig).(*models.ApiConfig)
	start, _ := c.Locals(middlewares.LocalsStartedAt).(time.Time)
	if cfg == nil {
		return fiber.NewError(fiber.StatusInternalServerError, "pipeline misconfigured")
	}
	if start.IsZero() {
		start = time.Now()
	}

	sub := &models.Submission{
		ApiConfigID: cfg.Id,
		IPAddress:   c.IP(),
		Origin:      c.Get("Origin"),
	}
	if raw := c.Body(); json.Valid(raw) {
		sub.RawPayload = append([]byte(nil), raw...)
	}

	payload, orderedKeys, err := parsePayload(c.Body())
	if err != nil {
		return finishSubmit(c, cfg, sub, start,
			pipeline.Errorf(pipeline.ValidationFailed, "request body must be a JSON object"))
	}

	// Spam checks: honeypot, content patterns, per-IP burst.
	verdict := spamChecker.Check(payload, cfg.HoneypotFieldName, c.IP(), time.Now())
	if verdict.IsSpam {
		sub.IsSpam = true
		sub.SpamReason = verdict.Reason
		return finishSubmit(c, cfg, sub, start,
			pipeline.Errorf(pipeline.SpamRejected, "%s", verdict.Reason))
	}

	// CAPTCHA, only when the tenant configured one. Fail-closed.
	if cfg.CaptchaType != "" {
		if !captchaVerifier.Verify(c.Context(), cfg.CaptchaType, cfg.CaptchaSecretKey, payload) {
			return finishSubmit(c, cfg, sub, start,
				pipeline.Errorf(pipeline.CaptchaFailed, "captcha verification failed"))
		}
	}

	if fieldErrors := validatePayload(cfg, payload); len(fieldErrors) > 0 {
		perr := pipeline.Errorf(pipeline.ValidationFailed, "validation failed")
		perr.FieldErrors = fieldErrors
		return finishSubmit(c, cfg, sub, start, perr)
	}

	form, perr := loadDestination(cfg)
	if perr != nil {
		sub.SheetError = &perr.Message
		return finishSubmit(c, cfg, sub, start, perr)
	}

	mapped, perr := sheetSyncer.Write(c.Context(), form.UserId, form.Sheet, payload, orderedKeys, time.Now())
	if mapped != nil {
		if raw, err := json.Marshal(mapped); err == nil {
			sub.MappedData = datatypes.JSON(raw)
		}
	}
	if perr != nil {
		sub.SheetError = &perr.Message
		return finishSubmit(c, cfg, sub, start, perr)
	}

	sub.SheetWritten = true
	return finishSubmit(c, cfg, sub, start, nil)
}

func loadDestination(cfg *models.ApiConfig) (*models.Form, *pipeline.Error) {
	var form models.Form
	err := database.DB.Preload("Sheet").Where("id = ?", cfg.FormID).First(&form).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pipeline.Errorf(pipeline.SheetWriteError, "form missing")
		}
		logger.Error("submit: form lookup failed: %v", err)
		return nil, pipeline.Errorf(pipeline.SheetWriteError, "destination lookup failed")
	}
	if form.Sheet == nil {
		return nil, pipeline.Errorf(pipeline.SheetWriteError, "no sheet connected")
	}
	return &form, nil
}

// finishSubmit persists the audit row and usage counters for every outcome,
// then writes the response, honoring the tenant's customResponseData on
// success.
func finishSubmit(c *fiber.Ctx, cfg *models.ApiConfig, sub *models.Submission, start time.Time, perr *pipeline.Error) error {
	if err := recorder.Audit(sub); err != nil {
		logger.Error("submit: audit write failed: %v", err)
	}
	ms := float64(time.Since(start).Microseconds()) / 1000
	if err := recorder.Record(cfg.Id, sub.IPAddress, perr == nil, ms, time.Now()); err != nil {
		logger.Error("submit: usage record failed: %v", err)
	}

	if perr != nil {
		body := fiber.Map{"success": false, "error": perr.Message}
		if len(perr.FieldErrors) > 0 {
			body["validation_errors"] = perr.FieldErrors
		}
		return c.Status(perr.StatusCode()).JSON(body)
	}

	body := fiber.Map{"success": true, "message": "Submission received"}
	if len(cfg.CustomResponseData) > 0 {
		var custom map[string]any
		if err := json.Unmarshal(cfg.CustomResponseData, &custom); err == nil {
			for k, v := range custom {
				if k != "success" {
					body[k] = v
				}
			}
		}
	}
	return c.JSON(body)
}

// parsePayload decodes a flat JSON object into string values while keeping
// the key declaration order, so that downstream tie-breaking is
// deterministic (first-declared wins).
func parsePayload(raw []byte) (map[string]string, []string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, nil, errors.New("payload is not a JSON object")
	}

	payload := make(map[string]string)
	var keys []string
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, nil, err
		}
		key := keyTok.(string)

		var value any
		if err := dec.Decode(&value); err != nil {
			return nil, nil, err
		}
		if _, dup := payload[key]; !dup {
			keys = append(keys, key)
		}
		payload[key] = stringifyValue(value)
	}
	if _, err := dec.Token(); err != nil {
		return nil, nil, err
	}
	return payload, keys, nil
}

func stringifyValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	default:
		raw, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(raw)
	}
}

// validatePayload applies the tenant's required fields and declarative
// rules; non-required rules only run against non-empty values.
func validatePayload(cfg *models.ApiConfig, payload map[string]string) map[string]string {
	fieldErrors := make(map[string]string)

	for _, f := range cfg.RequiredFields {
		if strings.TrimSpace(payload[f]) == "" {
			fieldErrors[f] = "required"
		}
	}

	for _, rule := range cfg.ValidationRules {
		if _, bad := fieldErrors[rule.Field]; bad {
			continue
		}
		value := payload[rule.Field]
		if strings.TrimSpace(value) == "" {
			continue
		}
		switch rule.Type {
		case "email":
			if _, err := mail.ParseAddress(value); err != nil {
				fieldErrors[rule.Field] = "must be a valid email address"
			}
		case "min_length":
			if n, err := strconv.Atoi(rule.Value); err == nil && len(value) < n {
				fieldErrors[rule.Field] = fmt.Sprintf("must be at least %d characters", n)
			}
		case "max_length":
			if n, err := strconv.Atoi(rule.Value); err == nil && len(value) > n {
				fieldErrors[rule.Field] = fmt.Sprintf("must be at most %d characters", n)
			}
		case "regex":
			if re, err := regexp.Compile(rule.Value); err == nil && !re.MatchString(value) {
				fieldErrors[rule.Field] = "invalid format"
			}
		}
	}
	return fieldErrors
}
