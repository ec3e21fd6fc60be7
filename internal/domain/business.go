package domain

import "time"

// Business is a tenant of the platform. Requests are mapped to a business by
// the hostname they arrive on, and access tokens are verified against the
// business's own JWT secret.
type Business struct {
	ID          string    `gorm:"type:text;primaryKey" json:"id"`
	Name        string    `gorm:"type:text;not null;uniqueIndex:idx_businesses_name" json:"name"`
	Domain      string    `gorm:"type:text;not null;uniqueIndex:idx_businesses_domain" json:"domain"`
	OwnerUserID string    `gorm:"type:text;not null" json:"owner_user_id"`
	JWTSecret   string    `gorm:"type:text;not null" json:"-"`
	Description string    `gorm:"type:text" json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName returns the database table name for Business.
func (Business) TableName() string {
	return "businesses"
}

// RootURL returns the https base URL of the business domain.
func (b *Business) RootURL() string {
	if b.Domain == "" {
		return ""
	}
	return "https://" + b.Domain
}
