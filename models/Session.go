package models

import "time"

// Session is one opaque bearer token issued by the auth service. The
// messaging core only ever reads this table.
type Session struct {
	Token     string    `json:"-" gorm:"primaryKey;size:128"`
	UserID    uint      `json:"userID" gorm:"not null;index"`
	Role      string    `json:"role" gorm:"type:varchar(20)"`
	ExpiresAt time.Time `json:"expiresAt" gorm:"index"`
	CreatedAt time.Time `json:"createdAt"`
}
