package routes

import (
	"github.com/gofiber/fiber/v2"

	"sheettree-backend/controllers"
	"sheettree-backend/middlewares"
)

// Register wires all HTTP routes. The gatekeeper handler guards the public
// submit endpoint; everything under /api uses dashboard JWT auth.
func Register(app *fiber.App, gatekeeper fiber.Handler) {
	// Public submission endpoint (API-key authenticated, per-tenant CORS)
	app.Post("/submit/:apiHash", gatekeeper, controllers.Submit)
	app.Options("/submit/:apiHash", gatekeeper)

	api := app.Group("/api")

	// Public auth endpoints
	api.Post("/registration", controllers.Register)
	api.Post("/login", controllers.Login)
	api.Post("/logout", controllers.Logout)

	// OAuth callback arrives without a session; state carries the user.
	api.Get("/oauth/google/callback", controllers.GoogleCallback)

	// Protected endpoints (JWT auth)
	protected := api.Group("")
	protected.Use(middlewares.IsAuthenticatedHeader())

	protected.Get("/oauth/google/connect", controllers.ConnectGoogle)

	// Forms and their endpoint configs
	protected.Post("/form", controllers.CreateForm)
	protected.Get("/forms", controllers.GetForms)
	protected.Get("/form/:id", controllers.GetForm)
	protected.Put("/form/:id/config", controllers.UpdateConfig)
	protected.Post("/form/:id/sheet", controllers.ConnectSheet)
	protected.Get("/form/:id/submissions", controllers.GetSubmissions)
	protected.Get("/form/:id/usage", controllers.GetUsage)
}
