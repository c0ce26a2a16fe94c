package controllers

import (
	"errors"
	"time"

	"sheettree-backend/database"
	"sheettree-backend/middlewares"
	"sheettree-backend/models"
	"sheettree-backend/utils"

	"github.com/gofiber/fiber/v2"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type createFormDTO struct {
	Name        string `json:"name" validate:"required,min=1,max=120"`
	Description string `json:"description" validate:"max=500"`
}

func CreateForm(c *fiber.Ctx) error {
	userID, _ := c.Locals("userID").(string)

	var dto createFormDTO
	if err := middlewares.BindAndValidate(c, &dto); err != nil {
		return err
	}
	utils.NormalizeDTO(&dto)

	form := models.Form{
		UserId:      userID,
		Name:        dto.Name,
		Description: dto.Description,
	}
	if err := database.DB.Create(&form).Error; err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "could not create form")
	}

	cfg := models.ApiConfig{FormID: form.Id}
	if err := database.DB.Create(&cfg).Error; err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "could not create endpoint config")
	}

	// The API key is returned once, on creation only.
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"form":     form,
		"api_hash": cfg.ApiHash,
		"api_key":  cfg.ApiKey,
	})
}

func GetForms(c *fiber.Ctx) error {
	userID, _ := c.Locals("userID").(string)

	var forms []models.Form
	database.DB.Preload("Config").Preload("Sheet").
		Where("user_id = ?", userID).Find(&forms)

	return c.JSON(fiber.Map{
		"forms":   forms,
		"message": "success",
	})
}

// ownedForm loads a form and verifies it belongs to the caller.
func ownedForm(c *fiber.Ctx) (*models.Form, error) {
	userID, _ := c.Locals("userID").(string)

	var form models.Form
	err := database.DB.Preload("Config").Preload("Sheet").
		Where("id = ? AND user_id = ?", c.Params("id"), userID).
		First(&form).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fiber.NewError(fiber.StatusNotFound, "form not found")
		}
		return nil, err
	}
	return &form, nil
}

func GetForm(c *fiber.Ctx) error {
	form, err := ownedForm(c)
	if err != nil {
		return err
	}
	return c.JSON(form)
}

type updateConfigDTO struct {
	IsActive           *bool                    `json:"is_active"`
	CorsEnabled        *bool                    `json:"cors_enabled"`
	AllowedOrigins     *[]string                `json:"allowed_origins"`
	CaptchaType        *string                  `json:"captcha_type" validate:"omitempty,oneof='' recaptcha_v2 recaptcha_v3 hcaptcha"`
	CaptchaSecretKey   *string                  `json:"captcha_secret_key"`
	HoneypotFieldName  *string                  `json:"honeypot_field_name"`
	RequiredFields     *[]string                `json:"required_fields"`
	ValidationRules    *[]models.ValidationRule `json:"validation_rules"`
	RateLimitPerMinute *int                     `json:"rate_limit_per_minute" validate:"omitempty,min=0"`
	RateLimitPerHour   *int                     `json:"rate_limit_per_hour" validate:"omitempty,min=0"`
	RateLimitPerDay    *int                     `json:"rate_limit_per_day" validate:"omitempty,min=0"`
	CustomResponseData *datatypes.JSON          `json:"custom_response_data"`
}

// UpdateConfig applies a partial update to the endpoint config. Identity
// fields (apiKey, apiHash) are not touchable here.
func UpdateConfig(c *fiber.Ctx) error {
	form, err := ownedForm(c)
	if err != nil {
		return err
	}

	var dto updateConfigDTO
	if err := middlewares.BindAndValidate(c, &dto); err != nil {
		return err
	}

	cfg := form.Config
	if dto.IsActive != nil {
		cfg.IsActive = *dto.IsActive
	}
	if dto.CorsEnabled != nil {
		cfg.CorsEnabled = *dto.CorsEnabled
	}
	if dto.AllowedOrigins != nil {
		cfg.AllowedOrigins = *dto.AllowedOrigins
	}
	if dto.CaptchaType != nil {
		cfg.CaptchaType = *dto.CaptchaType
	}
	if dto.CaptchaSecretKey != nil {
		cfg.CaptchaSecretKey = *dto.CaptchaSecretKey
	}
	if dto.HoneypotFieldName != nil {
		cfg.HoneypotFieldName = *dto.HoneypotFieldName
	}
	if dto.RequiredFields != nil {
		cfg.RequiredFields = *dto.RequiredFields
	}
	if dto.ValidationRules != nil {
		for _, rule := range *dto.ValidationRules {
			if err := middlewares.ValidateStruct(&rule); err != nil {
				return err
			}
		}
		cfg.ValidationRules = *dto.ValidationRules
	}
	if dto.RateLimitPerMinute != nil {
		cfg.RateLimitPerMinute = *dto.RateLimitPerMinute
	}
	if dto.RateLimitPerHour != nil {
		cfg.RateLimitPerHour = *dto.RateLimitPerHour
	}
	if dto.RateLimitPerDay != nil {
		cfg.RateLimitPerDay = *dto.RateLimitPerDay
	}
	if dto.CustomResponseData != nil {
		cfg.CustomResponseData = *dto.CustomResponseData
	}

	if err := database.DB.Save(&cfg).Error; err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "could not update config")
	}
	return c.JSON(cfg)
}

type connectSheetDTO struct {
	SpreadsheetID string `json:"spreadsheet_id" validate:"required"`
	SheetName     string `json:"sheet_name" validate:"required"`
}

// ConnectSheet points the form at its destination spreadsheet. The
// reference is immutable in spirit: reconnecting replaces the row wholesale.
func ConnectSheet(c *fiber.Ctx) error {
	form, err := ownedForm(c)
	if err != nil {
		return err
	}

	var dto connectSheetDTO
	if err := middlewares.BindAndValidate(c, &dto); err != nil {
		return err
	}
	utils.NormalizeDTO(&dto)

	if form.Sheet != nil {
		if err := database.DB.Delete(form.Sheet).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "could not replace sheet")
		}
	}

	sheet := models.ConnectedSheet{
		FormID:        form.Id,
		SpreadsheetID: dto.SpreadsheetID,
		SheetName:     dto.SheetName,
	}
	if err := database.DB.Create(&sheet).Error; err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "could not connect sheet")
	}
	return c.Status(fiber.StatusCreated).JSON(sheet)
}

func GetSubmissions(c *fiber.Ctx) error {
	form, err := ownedForm(c)
	if err != nil {
		return err
	}

	var subs []models.Submission
	database.DB.Where("api_config_id = ?", form.Config.Id).
		Order("created_at DESC").Limit(100).Find(&subs)

	return c.JSON(fiber.Map{
		"submissions": subs,
		"message":     "success",
	})
}

func GetUsage(c *fiber.Ctx) error {
	form, err := ownedForm(c)
	if err != nil {
		return err
	}

	date := time.Now().UTC()
	if q := c.Query("date"); q != "" {
		parsed, err := time.Parse("2006-01-02", q)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "date must be YYYY-MM-DD")
		}
		date = parsed
	}

	agg, err := recorder.Daily(form.Config.Id, date)
	if err != nil {
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	}
	return c.JSON(agg)
}
