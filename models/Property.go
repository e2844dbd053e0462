package models

import (
	"encoding/json"
	"strings"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Property struct {
	gorm.Model
	Name         string `json:"name"`
	AddressLine1 string `json:"addressLine1"`
	AddressLine2 string `json:"addressLine2"`
	City         string `json:"city"`
	State        string `json:"state"`
	Zip          string `json:"zip"`
	Country      string `json:"country"`

	// Populated asynchronously by the geocoding service; nil until resolved.
	Lat *float64 `json:"lat"`
	Lng *float64 `json:"lng"`

	// Calendar feed the reservation sync pulls from.
	FeedURL    string `json:"feedURL"`
	FeedSource string `json:"feedSource" gorm:"type:varchar(30);default:'airbnb'"`

	// Cleaning policy flags.
	ChecklistRequired         bool `json:"checklistRequired" gorm:"default:true"`
	PhotosPerCategoryRequired bool `json:"photosPerCategoryRequired" gorm:"default:false"`
	IssuePhotoRequired        bool `json:"issuePhotoRequired" gorm:"default:false"`
	AutoRelease               bool `json:"autoRelease" gorm:"default:true"`
	ReleaseLeadMinutes        int  `json:"releaseLeadMinutes" gorm:"default:0"`

	// Default checklist handed to every new task. JSON array of
	// {title, category}.
	ChecklistTemplate datatypes.JSON `json:"checklistTemplate" gorm:"type:jsonb"`

	AccessPassword string `json:"accessPassword"`
	IsActive       *bool  `json:"isActive" gorm:"default:true"`

	Tasks []CleaningTask `json:"tasks,omitempty" gorm:"foreignKey:PropertyID"`
}

// ChecklistTemplateItem is one entry of Property.ChecklistTemplate.
type ChecklistTemplateItem struct {
	Title    string `json:"title"`
	Category string `json:"category"`
}

// FullAddress joins the postal fields into the single line handed to the
// geocoder and denormalized onto tasks.
func (p *Property) FullAddress() string {
	parts := []string{}
	for _, s := range []string{p.AddressLine1, p.AddressLine2, p.City, p.State, p.Zip, p.Country} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ", ")
}

// HasCoordinates reports whether geocoding has resolved this property yet.
func (p *Property) HasCoordinates() bool {
	return p.Lat != nil && p.Lng != nil
}

// TemplateItems decodes the checklist template, tolerating an empty column.
func (p *Property) TemplateItems() []ChecklistTemplateItem {
	if len(p.ChecklistTemplate) == 0 {
		return nil
	}
	var items []ChecklistTemplateItem
	if err := json.Unmarshal(p.ChecklistTemplate, &items); err != nil {
		return nil
	}
	return items
}
