package controllers

import (
	"os"
	"strings"

	"sheettree-backend/middlewares"
	"sheettree-backend/oauth"

	"github.com/gofiber/fiber/v2"
)

var credentialManager *oauth.Manager

// InitOAuth wires the credential manager shared with the sheet synchronizer.
func InitOAuth(m *oauth.Manager) {
	credentialManager = m
}

func connectConfig() oauth.ConnectConfig {
	base := strings.TrimRight(os.Getenv("APP_BASE_URL"), "/")
	return oauth.ConnectConfig{
		AuthorizeURL: envDefault("GOOGLE_AUTHORIZE_URL", "https://accounts.google.com/o/oauth2/v2/auth"),
		RedirectURI:  base + "/api/oauth/google/callback",
		Scopes:       []string{"https://www.googleapis.com/auth/spreadsheets"},
	}
}

func envDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// ConnectGoogle returns the provider consent URL for the logged-in user.
// The state parameter is a short-lived signed token carrying the user id.
func ConnectGoogle(c *fiber.Ctx) error {
	userID, _ := c.Locals("userID").(string)

	state, err := middlewares.GenerateJWT(userID)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "could not sign state")
	}

	return c.JSON(fiber.Map{
		"url": credentialManager.AuthCodeURL(connectConfig(), state),
	})
}

// GoogleCallback finishes the connect flow: validates state, exchanges the
// code, and stores the credential for the user.
func GoogleCallback(c *fiber.Ctx) error {
	code := c.Query("code")
	state := c.Query("state")
	if code == "" || state == "" {
		return fiber.NewError(fiber.StatusBadRequest, "missing code or state")
	}

	userID, err := middlewares.ParseSubject(state)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid state")
	}

	if err := credentialManager.Exchange(c.Context(), userID, code, connectConfig().RedirectURI); err != nil {
		return fiber.NewError(fiber.StatusBadGateway, "token exchange failed")
	}

	redirect := os.Getenv("OAUTH_SUCCESS_REDIRECT")
	if redirect == "" {
		return c.JSON(fiber.Map{"message": "success"})
	}
	return c.Redirect(redirect, fiber.StatusSeeOther)
}
