package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Submission is the per-call audit record. One row is created for every
// request that reaches the pipeline, whatever its outcome; only the
// sheet-write fields are updated afterwards.
type Submission struct {
	Id          string `json:"id" gorm:"primaryKey"`
	ApiConfigID string `json:"api_config_id" gorm:"index;not null"`

	RawPayload datatypes.JSON `json:"raw_payload" gorm:"type:jsonb"`
	MappedData datatypes.JSON `json:"mapped_data" gorm:"type:jsonb"`
	IPAddress  string         `json:"ip_address"`
	Origin     string         `json:"origin"`

	IsSpam     bool   `json:"is_spam"`
	SpamReason string `json:"spam_reason"`

	SheetWritten bool    `json:"sheet_written"`
	SheetError   *string `json:"sheet_error"`

	CreatedAt time.Time `json:"created_at"`
}

func (sub *Submission) BeforeCreate(tx *gorm.DB) (err error) {
	// UUID version 4
	sub.Id = uuid.NewString()
	return
}
