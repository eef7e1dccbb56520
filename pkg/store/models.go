package store

import (
	"time"
)

// ResultRecord is one persisted execution. The full result document is
// kept as a self-contained JSON payload; the indexed columns exist for
// listing and filtering.
type ResultRecord struct {
	ID uint `gorm:"primaryKey" json:"-"`

	ExecutionID string `gorm:"uniqueIndex;not null" json:"execution_id"`
	DUTSerial   string `gorm:"index;not null" json:"dut_serial"`
	Verdict     string `gorm:"index;not null" json:"verdict"`

	StartedAt    time.Time     `json:"started_at"`
	EndedAt      time.Time     `json:"ended_at"`
	Duration     time.Duration `json:"duration_ns"`
	Measurements int           `json:"measurements"`

	Payload []byte `gorm:"not null" json:"-"`

	CreatedAt time.Time `json:"created_at"`
}

// User is an API account checked on the read-only results surface.
type User struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Username     string    `gorm:"uniqueIndex;not null" json:"username"`
	PasswordHash string    `gorm:"not null" json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
