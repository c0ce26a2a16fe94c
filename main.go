package main

import (
	"os"
	"strconv"
	"time"

	"sheettree-backend/captcha"
	"sheettree-backend/controllers"
	"sheettree-backend/database"
	"sheettree-backend/limiter"
	"sheettree-backend/logger"
	"sheettree-backend/middlewares"
	"sheettree-backend/oauth"
	"sheettree-backend/routes"
	"sheettree-backend/sheets"
	"sheettree-backend/spam"
	"sheettree-backend/usage"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlimiter "github.com/gofiber/fiber/v2/middleware/limiter"
)

// envInt reads an int env var with a default fallback.
func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func main() {
	logger.Init(logger.ParseLogLevel(os.Getenv("LOG_LEVEL")), os.Getenv("LOG_FILE"),
		envInt("LOG_MAX_SIZE_MB", 100), envInt("LOG_MAX_BACKUPS", 5), envInt("LOG_MAX_AGE_DAYS", 30))

	// ---- Database
	database.Connect()
	database.AutoMigrate()

	// ---- Submission pipeline wiring
	store := limiter.NewMemoryStore()
	lim := limiter.New(store)
	go func() {
		for range time.Tick(10 * time.Minute) {
			store.Sweep(time.Now(), 25*time.Hour)
		}
	}()

	manager := oauth.NewManager(database.DB, oauth.Config{
		TokenURL:     envDefault("GOOGLE_TOKEN_URL", "https://oauth2.googleapis.com/token"),
		ClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
		ClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
	})

	recorder := usage.NewRecorder(database.DB)
	syncer := sheets.NewSyncer(sheets.NewClient(), manager)

	controllers.InitOAuth(manager)
	controllers.InitSubmitPipeline(spam.NewChecker(lim), captcha.New(), syncer, recorder)

	// ---- Limits (configurable via env)
	bodyLimitBytes := envInt("BODY_LIMIT_BYTES", 0)
	if bodyLimitBytes <= 0 {
		bodyLimitBytes = envInt("BODY_LIMIT_MB", 4) * 1024 * 1024
	}

	// ---- Fiber app with global error handler + body limit
	app := fiber.New(fiber.Config{
		ErrorHandler: middlewares.ErrorHandler,
		BodyLimit:    bodyLimitBytes,
	})

	// ---- Dashboard CORS + coarse rate limit. The public submit endpoint
	// handles both per tenant config inside the gatekeeper instead.
	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	if allowedOrigins == "" {
		allowedOrigins = "*"
	}
	api := app.Group("/api")
	api.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowCredentials: false, // using Bearer tokens, not cookies
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
	}))
	api.Use(fiberlimiter.New(fiberlimiter.Config{
		Max:        envInt("DASHBOARD_RATE_LIMIT_MAX", 120),
		Expiration: time.Duration(envInt("DASHBOARD_RATE_LIMIT_WINDOW_SECONDS", 60)) * time.Second,
	}))

	// ---- Routes
	routes.Register(app, middlewares.Gatekeeper(lim, recorder))

	// ---- Start
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	logger.Info("API server starting on port %s", port)
	if err := app.Listen(":" + port); err != nil {
		panic(err)
	}
}

func envDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
