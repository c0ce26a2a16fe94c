package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Form struct {
	Id          string `json:"id" gorm:"primaryKey"`
	UserId      string `json:"-" gorm:"index;not null"`
	Name        string `json:"name" gorm:"not null"`
	Description string `json:"description"`

	Config ApiConfig       `json:"config" gorm:"foreignKey:FormID;references:Id;constraint:OnDelete:CASCADE"`
	Sheet  *ConnectedSheet `json:"sheet" gorm:"foreignKey:FormID;references:Id;constraint:OnDelete:CASCADE"`

	CreatedAt time.Time `json:"created_at"`
}

func (form *Form) BeforeCreate(tx *gorm.DB) (err error) {
	// UUID version 4
	form.Id = uuid.NewString()
	return
}
