package models

import (
	"time"

	"gorm.io/gorm"
)

// Reservation is a stay ingested from a property's calendar feed. Rows are
// created and updated only by the reservation sync; a feed entry that
// disappears upstream leaves its row untouched.
type Reservation struct {
	gorm.Model
	// ExternalID is "<source>_<uid>", the stable dedup key across syncs.
	ExternalID  string    `json:"externalID" gorm:"uniqueIndex;size:255;not null"`
	PropertyID  uint      `json:"propertyID" gorm:"index;not null"`
	GuestName   string    `json:"guestName"`
	CheckIn     time.Time `json:"checkIn"`
	CheckOut    time.Time `json:"checkOut"`
	Summary     string    `json:"summary"`
	Description string    `json:"description"`
	Status      string    `json:"status" gorm:"type:varchar(20);default:'confirmed'"`

	Property *Property `json:"property,omitempty" gorm:"foreignKey:PropertyID"`
}
