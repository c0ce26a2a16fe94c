package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ConnectedSheet is an immutable reference to the destination spreadsheet.
// The live header row inside the spreadsheet is external state; it is read
// and extended per request, never cached here.
type ConnectedSheet struct {
	Id            string    `json:"id" gorm:"primaryKey"`
	FormID        string    `json:"form_id" gorm:"uniqueIndex;not null"`
	SpreadsheetID string    `json:"spreadsheet_id" gorm:"not null"`
	SheetName     string    `json:"sheet_name" gorm:"not null"`
	CreatedAt     time.Time `json:"created_at"`
}

func (sheet *ConnectedSheet) BeforeCreate(tx *gorm.DB) (err error) {
	// UUID version 4
	sheet.Id = uuid.NewString()
	return
}
