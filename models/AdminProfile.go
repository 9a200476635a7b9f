package models

import "gorm.io/gorm"

// AdminProfile holds display details for back-office accounts that send
// system messages (maintenance, payment notices).
type AdminProfile struct {
	gorm.Model
	UserID    uint   `json:"userID" gorm:"not null;uniqueIndex"`
	FirstName string `json:"firstName" gorm:"size:128"`
	LastName  string `json:"lastName" gorm:"size:128"`
	AvatarURL string `json:"avatarURL" gorm:"size:512"`
}
