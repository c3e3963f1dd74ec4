package identity

import "time"

// Account is a local user record created on first login. Its credential is
// system-generated and never derived from provider data.
type Account struct {
	ID        string    `gorm:"column:id;primaryKey;size:64;not null"`
	Secret    string    `gorm:"column:secret;size:128;not null"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
}

// TableName exposes the table backing local accounts.
func (Account) TableName() string {
	return "accounts"
}

// Link binds one external-provider identity to one local account. The store
// carries no uniqueness constraint on external_id; at most one effective link
// per external id is enforced by the upsert protocol instead.
type Link struct {
	ID          int64     `gorm:"column:id;primaryKey;autoIncrement"`
	ExternalID  string    `gorm:"column:external_id;size:190;not null;index"`
	AccessToken string    `gorm:"column:access_token;size:512;not null"`
	FirstName   string    `gorm:"column:first_name;size:190"`
	LastName    string    `gorm:"column:last_name;size:190"`
	AccountID   string    `gorm:"column:account_id;size:64;not null;index"`
	CreatedAt   time.Time `gorm:"column:created_at;not null"`
	UpdatedAt   time.Time `gorm:"column:updated_at;not null"`
}

// TableName exposes the table backing identity links.
func (Link) TableName() string {
	return "identity_links"
}

// Profile carries the display attributes cached on a link.
type Profile struct {
	FirstName string
	LastName  string
}
