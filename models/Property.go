package models

import "gorm.io/gorm"

// Property is the denormalized slice of the property table the messaging
// core reads: display name plus the landlord used as the default
// conversation counterpart.
type Property struct {
	gorm.Model
	Name       string `json:"name" gorm:"size:256"`
	Address    string `json:"address" gorm:"size:512"`
	LandlordID uint   `json:"landlordID" gorm:"not null;index"`
}
