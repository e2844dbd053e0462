package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Task lifecycle statuses. Transitions only move forward except for an
// administrative revert, which must carry a reason.
const (
	StatusWaiting   = "waiting"
	StatusReleased  = "released"
	StatusCleaning  = "cleaning"
	StatusCompleted = "completed"
)

// ChecklistSchemaVersion tags the checklist/photos/history jsonb blobs so
// unrecognized shapes are rejected at the persistence boundary instead of
// being silently misread.
const ChecklistSchemaVersion = 1

var ErrBlobSchema = errors.New("unsupported blob schema version")

type ChecklistItem struct {
	ID        string `json:"id"` // stable across edits
	Title     string `json:"title"`
	Category  string `json:"category"`
	Completed bool   `json:"completed"`
}

type TaskPhoto struct {
	URL        string    `json:"url"`
	UploadedAt time.Time `json:"uploadedAt"`
	UploadedBy string    `json:"uploadedBy"`
}

type HistoryEntry struct {
	At        time.Time              `json:"at"`
	ActorID   uint                   `json:"actorID"`
	ActorName string                 `json:"actorName"`
	ActorRole string                 `json:"actorRole"`
	Action    string                 `json:"action"`
	From      string                 `json:"from"`
	To        string                 `json:"to"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

type Acknowledgement struct {
	UserID uint      `json:"userID"`
	Name   string    `json:"name"`
	At     time.Time `json:"at"`
}

type checklistBlob struct {
	Version int             `json:"version"`
	Items   []ChecklistItem `json:"items"`
}

type photosBlob struct {
	Version    int                    `json:"version"`
	Categories map[string][]TaskPhoto `json:"categories"`
}

type historyBlob struct {
	Version int            `json:"version"`
	Entries []HistoryEntry `json:"entries"`
}

// CleaningTask is the unit of cleaning work derived from a reservation.
type CleaningTask struct {
	gorm.Model
	PropertyID uint `json:"propertyID" gorm:"index;not null"`

	// Snapshot of the property at task creation; kept in sync by the
	// reconciler only while the task is still waiting.
	PropertyName    string `json:"propertyName"`
	PropertyAddress string `json:"propertyAddress"`

	ReservationID *uint `json:"reservationID" gorm:"uniqueIndex"`

	CheckIn  time.Time `json:"checkIn"`
	CheckOut time.Time `json:"checkOut"`

	Status string `json:"status" gorm:"type:varchar(20);default:'waiting';index"`

	AssignedToID   *uint  `json:"assignedToID" gorm:"index"`
	AssignedToName string `json:"assignedToName"`

	Checklist        datatypes.JSON `json:"-" gorm:"type:jsonb"`
	CategoryPhotos   datatypes.JSON `json:"-" gorm:"type:jsonb"`
	History          datatypes.JSON `json:"-" gorm:"type:jsonb"`
	Acknowledgements datatypes.JSON `json:"-" gorm:"type:jsonb"`

	StartedAt  *time.Time `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt"`

	RevertReason   string `json:"revertReason"`
	AccessPassword string `json:"accessPassword"`
	IsActive       *bool  `json:"isActive" gorm:"default:true"`

	Property    *Property    `json:"property,omitempty" gorm:"foreignKey:PropertyID"`
	Reservation *Reservation `json:"reservation,omitempty" gorm:"foreignKey:ReservationID"`
}

// ChecklistItems decodes the checklist blob, rejecting unknown schema
// versions. An empty column decodes to an empty list.
func (t *CleaningTask) ChecklistItems() ([]ChecklistItem, error) {
	if len(t.Checklist) == 0 {
		return []ChecklistItem{}, nil
	}
	var blob checklistBlob
	if err := json.Unmarshal(t.Checklist, &blob); err != nil {
		return nil, fmt.Errorf("checklist blob: %w", err)
	}
	if blob.Version != ChecklistSchemaVersion {
		return nil, fmt.Errorf("%w: checklist v%d", ErrBlobSchema, blob.Version)
	}
	return blob.Items, nil
}

func (t *CleaningTask) SetChecklistItems(items []ChecklistItem) error {
	raw, err := json.Marshal(checklistBlob{Version: ChecklistSchemaVersion, Items: items})
	if err != nil {
		return err
	}
	t.Checklist = datatypes.JSON(raw)
	return nil
}

func (t *CleaningTask) PhotoMap() (map[string][]TaskPhoto, error) {
	if len(t.CategoryPhotos) == 0 {
		return map[string][]TaskPhoto{}, nil
	}
	var blob photosBlob
	if err := json.Unmarshal(t.CategoryPhotos, &blob); err != nil {
		return nil, fmt.Errorf("photos blob: %w", err)
	}
	if blob.Version != ChecklistSchemaVersion {
		return nil, fmt.Errorf("%w: photos v%d", ErrBlobSchema, blob.Version)
	}
	if blob.Categories == nil {
		blob.Categories = map[string][]TaskPhoto{}
	}
	return blob.Categories, nil
}

func (t *CleaningTask) SetPhotoMap(m map[string][]TaskPhoto) error {
	raw, err := json.Marshal(photosBlob{Version: ChecklistSchemaVersion, Categories: m})
	if err != nil {
		return err
	}
	t.CategoryPhotos = datatypes.JSON(raw)
	return nil
}

func (t *CleaningTask) HistoryEntries() ([]HistoryEntry, error) {
	if len(t.History) == 0 {
		return []HistoryEntry{}, nil
	}
	var blob historyBlob
	if err := json.Unmarshal(t.History, &blob); err != nil {
		return nil, fmt.Errorf("history blob: %w", err)
	}
	if blob.Version != ChecklistSchemaVersion {
		return nil, fmt.Errorf("%w: history v%d", ErrBlobSchema, blob.Version)
	}
	return blob.Entries, nil
}

// AppendHistory appends one entry, keeping timestamps strictly increasing.
// The log is append-only; entries are never rewritten.
func (t *CleaningTask) AppendHistory(entry HistoryEntry) error {
	entries, err := t.HistoryEntries()
	if err != nil {
		return err
	}
	if n := len(entries); n > 0 && !entry.At.After(entries[n-1].At) {
		entry.At = entries[n-1].At.Add(time.Millisecond)
	}
	entries = append(entries, entry)
	raw, err := json.Marshal(historyBlob{Version: ChecklistSchemaVersion, Entries: entries})
	if err != nil {
		return err
	}
	t.History = datatypes.JSON(raw)
	return nil
}

func (t *CleaningTask) AcknowledgementList() []Acknowledgement {
	if len(t.Acknowledgements) == 0 {
		return []Acknowledgement{}
	}
	var acks []Acknowledgement
	if err := json.Unmarshal(t.Acknowledgements, &acks); err != nil {
		return []Acknowledgement{}
	}
	return acks
}

func (t *CleaningTask) SetAcknowledgementList(acks []Acknowledgement) error {
	raw, err := json.Marshal(acks)
	if err != nil {
		return err
	}
	t.Acknowledgements = datatypes.JSON(raw)
	return nil
}

// MarshalJSON exposes the jsonb blobs as structured fields in API responses.
func (t *CleaningTask) MarshalJSON() ([]byte, error) {
	type Alias CleaningTask
	items, _ := t.ChecklistItems()
	photos, _ := t.PhotoMap()
	history, _ := t.HistoryEntries()
	return json.Marshal(&struct {
		*Alias
		Checklist        []ChecklistItem        `json:"checklist"`
		CategoryPhotos   map[string][]TaskPhoto `json:"categoryPhotos"`
		History          []HistoryEntry         `json:"history"`
		Acknowledgements []Acknowledgement      `json:"acknowledgements"`
	}{
		Alias:            (*Alias)(t),
		Checklist:        items,
		CategoryPhotos:   photos,
		History:          history,
		Acknowledgements: t.AcknowledgementList(),
	})
}
