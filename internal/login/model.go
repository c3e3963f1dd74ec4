package login

import "time"

// AuthRequest is one pending login attempt. Its id doubles as the OAuth state
// value and the record is single-use: it lives only between issuance and the
// first callback that consumes it.
type AuthRequest struct {
	ID        string    `gorm:"column:id;primaryKey;size:64;not null"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
}

// TableName exposes the table backing pending login attempts.
func (AuthRequest) TableName() string {
	return "auth_requests"
}
