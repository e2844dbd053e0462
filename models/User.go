package models

import (
	"encoding/json"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// User is a team member: a field worker or an administrator. Authentication
// happens upstream; this row only carries identity and notification targets.
type User struct {
	gorm.Model
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	Email       string `json:"email" gorm:"uniqueIndex"`
	PhoneNumber string `json:"phoneNumber"`
	AvatarURL   string `json:"avatarURL"`

	Role string `json:"role" gorm:"type:varchar(20);default:worker;index"` // worker, admin, super_admin

	PushTokens          datatypes.JSON `json:"pushTokens"`
	AllowsNotifications *bool          `json:"allowsNotifications"`
	IsActive            *bool          `json:"isActive" gorm:"default:true"`
}

func (u *User) DisplayName() string {
	if u.FirstName == "" && u.LastName == "" {
		return u.Email
	}
	if u.LastName == "" {
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}

func (u *User) PushTokenList() []string {
	if len(u.PushTokens) == 0 {
		return nil
	}
	var tokens []string
	if err := json.Unmarshal(u.PushTokens, &tokens); err != nil {
		return nil
	}
	return tokens
}
