package services

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/suporteanfitriao-svg/upkeep-beacon-sub002/models"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type fakeSyncStore struct {
	props        []models.Property
	reservations map[string]*models.Reservation // by external ID
	tasks        map[uint]*models.CleaningTask  // by reservation ID
	nextResID    uint
	nextTaskID   uint
}

func newFakeSyncStore(props ...models.Property) *fakeSyncStore {
	return &fakeSyncStore{
		props:        props,
		reservations: map[string]*models.Reservation{},
		tasks:        map[uint]*models.CleaningTask{},
	}
}

func (s *fakeSyncStore) FeedProperties(propertyID *uint) ([]models.Property, error) {
	var out []models.Property
	for _, p := range s.props {
		if p.FeedURL == "" {
			continue
		}
		if propertyID != nil && p.ID != *propertyID {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *fakeSyncStore) UpsertReservation(r *models.Reservation) (bool, error) {
	if existing, ok := s.reservations[r.ExternalID]; ok {
		existing.GuestName = r.GuestName
		existing.CheckIn = r.CheckIn
		existing.CheckOut = r.CheckOut
		existing.Summary = r.Summary
		existing.Description = r.Description
		existing.Status = r.Status
		*r = *existing
		return false, nil
	}
	s.nextResID++
	r.ID = s.nextResID
	stored := *r
	s.reservations[r.ExternalID] = &stored
	return true, nil
}

func (s *fakeSyncStore) TaskByReservation(reservationID uint) (*models.CleaningTask, error) {
	t, ok := s.tasks[reservationID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return t, nil
}

func (s *fakeSyncStore) CreateTask(t *models.CleaningTask) error {
	s.nextTaskID++
	t.ID = s.nextTaskID
	s.tasks[*t.ReservationID] = t
	return nil
}

func (s *fakeSyncStore) SaveTask(t *models.CleaningTask) error {
	s.tasks[*t.ReservationID] = t
	return nil
}

// feedEvent renders one VEVENT block with timestamp-form dates.
func feedEvent(uid, summary string, start, end time.Time) string {
	const stamp = "20060102T150405Z"
	return strings.Join([]string{
		"BEGIN:VEVENT",
		"UID:" + uid,
		"DTSTART:" + start.UTC().Format(stamp),
		"DTEND:" + end.UTC().Format(stamp),
		"SUMMARY:" + summary,
		"END:VEVENT",
	}, "\r\n")
}

func wrapCalendar(events ...string) string {
	lines := append([]string{"BEGIN:VCALENDAR", "VERSION:2.0"}, events...)
	lines = append(lines, "END:VCALENDAR")
	return strings.Join(lines, "\r\n") + "\r\n"
}

// feedServer serves whatever body the returned pointer currently holds.
func feedServer(t *testing.T, body *string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, *body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func syncProperty(id uint, feedURL string) models.Property {
	p := models.Property{
		Name:         "Beach Flat",
		AddressLine1: "12 Ocean Ave",
		City:         "Cascais",
		FeedURL:      feedURL,
		FeedSource:   "airbnb",
		ChecklistTemplate: datatypes.JSON(`[
			{"title": "Change sheets", "category": "bedroom"},
			{"title": "Scrub shower", "category": "bathroom"}
		]`),
	}
	p.ID = id
	return p
}

func TestSyncCreatesReservationAndTask(t *testing.T) {
	checkIn := time.Now().UTC().Add(48 * time.Hour).Truncate(time.Hour)
	body := wrapCalendar(feedEvent("abc123", "Reserved - Maria Silva", checkIn, checkIn.Add(72*time.Hour)))
	srv := feedServer(t, &body)

	store := newFakeSyncStore(syncProperty(1, srv.URL))
	svc := NewSyncService(store)

	result, err := svc.Sync(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.Succeeded != 1 || result.Failed != 0 {
		t.Fatalf("result = %+v", result)
	}
	detail := result.Details[0]
	if detail.ReservationsCreated != 1 || detail.TasksCreated != 1 {
		t.Fatalf("detail = %+v", detail)
	}

	res := store.reservations["airbnb_abc123"]
	if res == nil {
		t.Fatal("reservation not keyed by <source>_<uid>")
	}
	if res.GuestName != "Maria Silva" {
		t.Errorf("guest name = %q", res.GuestName)
	}

	task := store.tasks[res.ID]
	if task == nil {
		t.Fatal("task not created")
	}
	if task.Status != models.StatusWaiting {
		t.Errorf("task status = %q", task.Status)
	}
	items, _ := task.ChecklistItems()
	if len(items) != 2 {
		t.Errorf("checklist should come from the property template, got %d items", len(items))
	}
	entries, _ := task.HistoryEntries()
	if len(entries) != 1 || entries[0].Action != "create" {
		t.Errorf("expected one create history entry, got %+v", entries)
	}
}

func TestSyncTwiceIsIdempotent(t *testing.T) {
	checkIn := time.Now().UTC().Add(48 * time.Hour).Truncate(time.Hour)
	body := wrapCalendar(feedEvent("abc123", "Reserved - Maria Silva", checkIn, checkIn.Add(72*time.Hour)))
	srv := feedServer(t, &body)

	store := newFakeSyncStore(syncProperty(1, srv.URL))
	svc := NewSyncService(store)

	if _, err := svc.Sync(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	result, err := svc.Sync(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}

	detail := result.Details[0]
	if detail.ReservationsCreated != 0 || detail.ReservationsUpdated != 1 {
		t.Errorf("second run should update, not create: %+v", detail)
	}
	if detail.TasksCreated != 0 {
		t.Errorf("second run created %d tasks", detail.TasksCreated)
	}
	if len(store.reservations) != 1 || len(store.tasks) != 1 {
		t.Errorf("rows duplicated: %d reservations, %d tasks", len(store.reservations), len(store.tasks))
	}
}

func TestSyncPicksUpFeedEdits(t *testing.T) {
	checkIn := time.Now().UTC().Add(48 * time.Hour).Truncate(time.Hour)
	body := wrapCalendar(feedEvent("abc123", "Reserved - Maria Silva", checkIn, checkIn.Add(72*time.Hour)))
	srv := feedServer(t, &body)

	store := newFakeSyncStore(syncProperty(1, srv.URL))
	svc := NewSyncService(store)

	if _, err := svc.Sync(context.Background(), nil); err != nil {
		t.Fatal(err)
	}

	// The guest renames and the stay extends by a day.
	body = wrapCalendar(feedEvent("abc123", "Reserved - Maria Santos", checkIn, checkIn.Add(96*time.Hour)))
	if _, err := svc.Sync(context.Background(), nil); err != nil {
		t.Fatal(err)
	}

	res := store.reservations["airbnb_abc123"]
	if res.GuestName != "Maria Santos" {
		t.Errorf("guest name = %q", res.GuestName)
	}
	task := store.tasks[res.ID]
	if !task.CheckOut.Equal(checkIn.Add(96 * time.Hour)) {
		t.Errorf("waiting task checkout not refreshed: %v", task.CheckOut)
	}
}

func TestSyncNeverResetsProgressedTask(t *testing.T) {
	checkIn := time.Now().UTC().Add(48 * time.Hour).Truncate(time.Hour)
	body := wrapCalendar(feedEvent("abc123", "Reserved - Maria Silva", checkIn, checkIn.Add(72*time.Hour)))
	srv := feedServer(t, &body)

	store := newFakeSyncStore(syncProperty(1, srv.URL))
	svc := NewSyncService(store)

	if _, err := svc.Sync(context.Background(), nil); err != nil {
		t.Fatal(err)
	}

	res := store.reservations["airbnb_abc123"]
	task := store.tasks[res.ID]
	task.Status = models.StatusCleaning
	items, _ := task.ChecklistItems()
	items[0].Completed = true
	task.SetChecklistItems(items)

	body = wrapCalendar(feedEvent("abc123", "Reserved - Maria Silva", checkIn, checkIn.Add(96*time.Hour)))
	if _, err := svc.Sync(context.Background(), nil); err != nil {
		t.Fatal(err)
	}

	task = store.tasks[res.ID]
	if task.Status != models.StatusCleaning {
		t.Errorf("re-sync reset the task to %q", task.Status)
	}
	if task.CheckOut.Equal(checkIn.Add(96 * time.Hour)) {
		t.Error("re-sync reshaped a task already in progress")
	}
	items, _ = task.ChecklistItems()
	if !items[0].Completed {
		t.Error("re-sync wiped checklist progress")
	}
}

func TestSyncSkipsStaleEvents(t *testing.T) {
	now := time.Now().UTC()
	stale := feedEvent("old1", "Reserved - Gone Guest", now.Add(-45*24*time.Hour), now.Add(-42*24*time.Hour))
	fresh := feedEvent("new1", "Reserved - Maria Silva", now.Add(48*time.Hour), now.Add(120*time.Hour))
	body := wrapCalendar(stale, fresh)
	srv := feedServer(t, &body)

	store := newFakeSyncStore(syncProperty(1, srv.URL))
	svc := NewSyncService(store)

	result, err := svc.Sync(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}

	detail := result.Details[0]
	if detail.EventsSeen != 2 || detail.EventsSkipped != 1 || detail.ReservationsCreated != 1 {
		t.Errorf("detail = %+v", detail)
	}
	if _, ok := store.reservations["airbnb_old1"]; ok {
		t.Error("stale event should not produce a reservation")
	}
}

func TestSyncIsolatesFeedFailures(t *testing.T) {
	checkIn := time.Now().UTC().Add(48 * time.Hour).Truncate(time.Hour)
	body := wrapCalendar(feedEvent("abc123", "Reserved - Maria Silva", checkIn, checkIn.Add(72*time.Hour)))
	good := feedServer(t, &body)
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream busy", http.StatusInternalServerError)
	}))
	t.Cleanup(bad.Close)

	store := newFakeSyncStore(syncProperty(1, bad.URL), syncProperty(2, good.URL))
	svc := NewSyncService(store)

	result, err := svc.Sync(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.Succeeded != 1 || result.Failed != 1 {
		t.Fatalf("result = %+v", result)
	}
	if result.Details[0].Error == "" {
		t.Error("failing feed should report its error")
	}
	if result.Details[1].ReservationsCreated != 1 {
		t.Errorf("healthy feed should still reconcile: %+v", result.Details[1])
	}
}

func TestSyncUnknownPropertyFails(t *testing.T) {
	store := newFakeSyncStore()
	svc := NewSyncService(store)

	id := uint(404)
	if _, err := svc.Sync(context.Background(), &id); err == nil {
		t.Fatal("expected an error for an unknown property")
	}
}
