package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	IssueStatusOpen       = "open"
	IssueStatusInProgress = "in_progress"
	IssueStatusResolved   = "resolved"
)

type IssuePhoto struct {
	URL        string    `json:"url"`
	UploadedAt time.Time `json:"uploadedAt"`
}

type IssueNote struct {
	At       time.Time `json:"at"`
	AuthorID uint      `json:"authorID"`
	Author   string    `json:"author"`
	Text     string    `json:"text"`
}

// MaintenanceIssue is a problem reported by a worker during a cleaning task.
type MaintenanceIssue struct {
	gorm.Model
	TaskID       uint   `json:"taskID" gorm:"index;not null"`
	PropertyID   uint   `json:"propertyID" gorm:"index;not null"`
	ReportedByID uint   `json:"reportedByID" gorm:"index"`
	ReportedBy   string `json:"reportedBy"`

	Category    string `json:"category"`
	Severity    string `json:"severity" gorm:"type:varchar(10);default:'low'"` // low, medium, high
	Description string `json:"description"`

	Photos datatypes.JSON `json:"-" gorm:"type:jsonb"`

	Status       string     `json:"status" gorm:"type:varchar(20);default:'open';index"`
	AssignedToID *uint      `json:"assignedToID"`
	ResolvedAt   *time.Time `json:"resolvedAt"`
	ResolvedByID *uint      `json:"resolvedByID"`
	Resolution   string     `json:"resolution"`

	// Append-only free-text progress notes.
	ProgressNotes datatypes.JSON `json:"-" gorm:"type:jsonb"`

	Task     *CleaningTask `json:"task,omitempty" gorm:"foreignKey:TaskID"`
	Property *Property     `json:"property,omitempty" gorm:"foreignKey:PropertyID"`
}

func (i *MaintenanceIssue) PhotoList() []IssuePhoto {
	if len(i.Photos) == 0 {
		return []IssuePhoto{}
	}
	var photos []IssuePhoto
	if err := json.Unmarshal(i.Photos, &photos); err != nil {
		return []IssuePhoto{}
	}
	return photos
}

func (i *MaintenanceIssue) SetPhotoList(photos []IssuePhoto) error {
	raw, err := json.Marshal(photos)
	if err != nil {
		return err
	}
	i.Photos = datatypes.JSON(raw)
	return nil
}

func (i *MaintenanceIssue) NoteList() []IssueNote {
	if len(i.ProgressNotes) == 0 {
		return []IssueNote{}
	}
	var notes []IssueNote
	if err := json.Unmarshal(i.ProgressNotes, &notes); err != nil {
		return []IssueNote{}
	}
	return notes
}

func (i *MaintenanceIssue) AppendNote(note IssueNote) error {
	notes := append(i.NoteList(), note)
	raw, err := json.Marshal(notes)
	if err != nil {
		return err
	}
	i.ProgressNotes = datatypes.JSON(raw)
	return nil
}

func (i *MaintenanceIssue) MarshalJSON() ([]byte, error) {
	type Alias MaintenanceIssue
	return json.Marshal(&struct {
		*Alias
		Photos        []IssuePhoto `json:"photos"`
		ProgressNotes []IssueNote  `json:"progressNotes"`
	}{
		Alias:         (*Alias)(i),
		Photos:        i.PhotoList(),
		ProgressNotes: i.NoteList(),
	})
}
