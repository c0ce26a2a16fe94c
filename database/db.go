package database

import (
	"fmt"
	"os"

	"sheettree-backend/logger"
	"sheettree-backend/models"

	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var DB *gorm.DB

func Connect() {
	if err := godotenv.Load(); err != nil {
		logger.Warn("no .env file found, relying on process environment")
	}

	host := os.Getenv("DB_HOST")
	if host == "" {
		host = "db"
	}
	port := os.Getenv("DB_PORT")
	if port == "" {
		port = "5432"
	}

	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
		host, os.Getenv("DB_USER"), os.Getenv("DB_PASSWORD"), os.Getenv("DB_NAME"), port)

	var err error
	DB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		logger.Error("database connection failed: %v", err)
		panic("could not connect to database")
	}
}

func AutoMigrate() {
	err := DB.AutoMigrate(
		&models.User{},
		&models.Form{},
		&models.ApiConfig{},
		&models.ConnectedSheet{},
		&models.Submission{},
		&models.UsageAggregate{},
		&models.OAuthCredential{},
	)
	if err != nil {
		logger.Error("auto-migration failed: %v", err)
		panic("could not migrate database")
	}
}
