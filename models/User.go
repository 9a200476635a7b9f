package models

import "gorm.io/gorm"

// User is the base account row. Display details normally live in the
// per-role profile tables; these columns are the resolver's last probe
// before the fixed fallback.
type User struct {
	gorm.Model
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email" gorm:"uniqueIndex"`
	AvatarURL string `json:"avatarURL"`
	Role      string `json:"role" gorm:"type:varchar(20);default:tenant;index"` // tenant, landlord, admin
}
