package models

import "gorm.io/gorm"

// TenantProfile holds the tenant-facing display details. One row per tenant
// account; probed first by the identity resolver.
type TenantProfile struct {
	gorm.Model
	UserID    uint   `json:"userID" gorm:"not null;uniqueIndex"`
	FirstName string `json:"firstName" gorm:"size:128"`
	LastName  string `json:"lastName" gorm:"size:128"`
	AvatarURL string `json:"avatarURL" gorm:"size:512"`
	Phone     string `json:"phone" gorm:"size:32"`
}
