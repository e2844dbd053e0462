package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/suporteanfitriao-svg/upkeep-beacon-sub002/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// defaultSyncWindow bounds how far back in time feed events are kept:
// anything that ended more than 30 days ago is ignored.
const defaultSyncWindow = 30 * 24 * time.Hour

// SyncStore is the persistence port the reconciler upserts through.
type SyncStore interface {
	// FeedProperties returns the active properties carrying a feed URL,
	// optionally scoped to a single property.
	FeedProperties(propertyID *uint) ([]models.Property, error)
	// UpsertReservation inserts or updates by external_id and reports
	// whether a new row was created. r carries the row's ID afterwards.
	UpsertReservation(r *models.Reservation) (created bool, err error)
	TaskByReservation(reservationID uint) (*models.CleaningTask, error)
	CreateTask(t *models.CleaningTask) error
	SaveTask(t *models.CleaningTask) error
}

// SyncDetail reports one property's outcome within a sync run.
type SyncDetail struct {
	PropertyID          uint   `json:"propertyID"`
	PropertyName        string `json:"propertyName"`
	Success             bool   `json:"success"`
	EventsSeen          int    `json:"eventsSeen"`
	EventsSkipped       int    `json:"eventsSkipped"`
	ReservationsCreated int    `json:"reservationsCreated"`
	ReservationsUpdated int    `json:"reservationsUpdated"`
	TasksCreated        int    `json:"tasksCreated"`
	Error               string `json:"error,omitempty"`
}

type SyncResult struct {
	Properties int          `json:"properties"`
	Succeeded  int          `json:"succeeded"`
	Failed     int          `json:"failed"`
	Details    []SyncDetail `json:"details"`
}

// SyncService fetches calendar feeds and reconciles them into reservations
// and cleaning tasks. Properties are processed sequentially; one feed's
// failure never aborts the batch.
type SyncService struct {
	store  SyncStore
	client *http.Client
	window time.Duration
	now    func() time.Time
}

func NewSyncService(store SyncStore) *SyncService {
	return &SyncService{
		store:  store,
		client: &http.Client{Timeout: 30 * time.Second},
		window: defaultSyncWindow,
		now:    time.Now,
	}
}

// Sync runs the reconciliation for all feed-carrying properties, or for a
// single one when propertyID is set.
func (s *SyncService) Sync(ctx context.Context, propertyID *uint) (*SyncResult, error) {
	properties, err := s.store.FeedProperties(propertyID)
	if err != nil {
		return nil, err
	}
	if propertyID != nil && len(properties) == 0 {
		return nil, fmt.Errorf("property %d not found or has no feed URL", *propertyID)
	}

	result := &SyncResult{Properties: len(properties)}
	for i := range properties {
		detail := s.syncProperty(ctx, &properties[i])
		if detail.Success {
			result.Succeeded++
		} else {
			result.Failed++
		}
		result.Details = append(result.Details, detail)
	}
	return result, nil
}

func (s *SyncService) syncProperty(ctx context.Context, prop *models.Property) SyncDetail {
	detail := SyncDetail{PropertyID: prop.ID, PropertyName: prop.Name}

	body, err := s.fetchFeed(ctx, prop.FeedURL)
	if err != nil {
		log.Printf("sync: property %d feed fetch failed: %v", prop.ID, err)
		detail.Error = err.Error()
		return detail
	}

	events := ParseFeed(body)
	detail.EventsSeen = len(events)

	cutoff := s.now().Add(-s.window)
	source := prop.FeedSource
	if source == "" {
		source = "airbnb"
	}

	for _, event := range events {
		if event.End.Before(cutoff) {
			detail.EventsSkipped++
			continue
		}

		reservation := models.Reservation{
			ExternalID:  fmt.Sprintf("%s_%s", source, event.UID),
			PropertyID:  prop.ID,
			GuestName:   GuestNameFromEvent(event.Summary, event.Description),
			CheckIn:     event.Start,
			CheckOut:    event.End,
			Summary:     event.Summary,
			Description: event.Description,
			Status:      "confirmed",
		}

		created, err := s.store.UpsertReservation(&reservation)
		if err != nil {
			log.Printf("sync: property %d reservation %s upsert failed: %v", prop.ID, reservation.ExternalID, err)
			detail.EventsSkipped++
			continue
		}
		if created {
			detail.ReservationsCreated++
		} else {
			detail.ReservationsUpdated++
		}

		createdTask, err := s.reconcileTask(prop, &reservation)
		if err != nil {
			log.Printf("sync: property %d task for reservation %d failed: %v", prop.ID, reservation.ID, err)
			continue
		}
		if createdTask {
			detail.TasksCreated++
		}
	}

	detail.Success = true
	return detail
}

func (s *SyncService) fetchFeed(ctx context.Context, feedURL string) (string, error) {
	if feedURL == "" {
		return "", errors.New("property has no feed URL")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return "", err
	}
	res, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return "", fmt.Errorf("feed returned status %d", res.StatusCode)
	}
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// reconcileTask upserts the cleaning task derived from a reservation. A task
// that has progressed past "waiting" is never reset or reshaped by feed
// data: a feed re-sync must not undo in-progress work.
func (s *SyncService) reconcileTask(prop *models.Property, reservation *models.Reservation) (bool, error) {
	existing, err := s.store.TaskByReservation(reservation.ID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, err
	}

	if existing == nil || errors.Is(err, gorm.ErrRecordNotFound) {
		task := models.CleaningTask{
			PropertyID:      prop.ID,
			PropertyName:    prop.Name,
			PropertyAddress: prop.FullAddress(),
			ReservationID:   &reservation.ID,
			CheckIn:         reservation.CheckIn,
			CheckOut:        reservation.CheckOut,
			Status:          models.StatusWaiting,
			AccessPassword:  prop.AccessPassword,
		}

		items := make([]models.ChecklistItem, 0)
		for _, tpl := range prop.TemplateItems() {
			items = append(items, models.ChecklistItem{
				ID:       uuid.NewString(),
				Title:    tpl.Title,
				Category: tpl.Category,
			})
		}
		if err := task.SetChecklistItems(items); err != nil {
			return false, err
		}
		if err := task.AppendHistory(models.HistoryEntry{
			At:        s.now().UTC(),
			ActorName: "sync",
			ActorRole: "system",
			Action:    "create",
			From:      "",
			To:        models.StatusWaiting,
			Payload:   map[string]interface{}{"externalID": reservation.ExternalID},
		}); err != nil {
			return false, err
		}
		if err := s.store.CreateTask(&task); err != nil {
			return false, err
		}
		return true, nil
	}

	if existing.Status != models.StatusWaiting {
		return false, nil
	}

	existing.PropertyName = prop.Name
	existing.PropertyAddress = prop.FullAddress()
	existing.CheckIn = reservation.CheckIn
	existing.CheckOut = reservation.CheckOut
	existing.AccessPassword = prop.AccessPassword
	return false, s.store.SaveTask(existing)
}

// GormSyncStore backs the reconciler with the database.
type GormSyncStore struct {
	db *gorm.DB
}

func NewGormSyncStore(db *gorm.DB) *GormSyncStore {
	return &GormSyncStore{db: db}
}

func (s *GormSyncStore) FeedProperties(propertyID *uint) ([]models.Property, error) {
	q := s.db.Where("feed_url <> ''")
	if propertyID != nil {
		q = q.Where("id = ?", *propertyID)
	}
	var properties []models.Property
	if err := q.Find(&properties).Error; err != nil {
		return nil, err
	}
	return properties, nil
}

func (s *GormSyncStore) UpsertReservation(r *models.Reservation) (bool, error) {
	var existing models.Reservation
	err := s.db.Where("external_id = ?", r.ExternalID).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// The conflict clause covers a concurrent sync inserting the same
		// external_id between our lookup and the create.
		createErr := s.db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "external_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"guest_name", "check_in", "check_out", "summary", "description", "status", "updated_at"}),
		}).Create(r).Error
		return createErr == nil, createErr
	}
	if err != nil {
		return false, err
	}

	existing.GuestName = r.GuestName
	existing.CheckIn = r.CheckIn
	existing.CheckOut = r.CheckOut
	existing.Summary = r.Summary
	existing.Description = r.Description
	existing.Status = r.Status
	if err := s.db.Save(&existing).Error; err != nil {
		return false, err
	}
	*r = existing
	return false, nil
}

func (s *GormSyncStore) TaskByReservation(reservationID uint) (*models.CleaningTask, error) {
	var task models.CleaningTask
	if err := s.db.Where("reservation_id = ?", reservationID).First(&task).Error; err != nil {
		return nil, err
	}
	return &task, nil
}

func (s *GormSyncStore) CreateTask(t *models.CleaningTask) error {
	return s.db.Create(t).Error
}

func (s *GormSyncStore) SaveTask(t *models.CleaningTask) error {
	return s.db.Save(t).Error
}
