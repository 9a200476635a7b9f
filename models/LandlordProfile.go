package models

import "gorm.io/gorm"

// LandlordProfile holds the landlord-facing display details.
type LandlordProfile struct {
	gorm.Model
	UserID      uint   `json:"userID" gorm:"not null;uniqueIndex"`
	FirstName   string `json:"firstName" gorm:"size:128"`
	LastName    string `json:"lastName" gorm:"size:128"`
	AvatarURL   string `json:"avatarURL" gorm:"size:512"`
	CompanyName string `json:"companyName" gorm:"size:256"`
	Phone       string `json:"phone" gorm:"size:32"`
}
