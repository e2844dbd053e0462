package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/suporteanfitriao-svg/upkeep-beacon-sub002/models"

	"gorm.io/gorm"
)

type fakeTaskStore struct {
	tasks  map[uint]*models.CleaningTask
	props  map[uint]*models.Property
	issues map[uint][]models.MaintenanceIssue
	saves  int
}

func newFakeTaskStore() *fakeTaskStore {
	return &fakeTaskStore{
		tasks:  map[uint]*models.CleaningTask{},
		props:  map[uint]*models.Property{},
		issues: map[uint][]models.MaintenanceIssue{},
	}
}

func (s *fakeTaskStore) Task(id uint) (*models.CleaningTask, error) {
	t, ok := s.tasks[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return t, nil
}

func (s *fakeTaskStore) Property(id uint) (*models.Property, error) {
	p, ok := s.props[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return p, nil
}

func (s *fakeTaskStore) SaveTask(t *models.CleaningTask) error {
	s.saves++
	s.tasks[t.ID] = t
	return nil
}

func (s *fakeTaskStore) TaskIssues(taskID uint) ([]models.MaintenanceIssue, error) {
	return s.issues[taskID], nil
}

func boolPtr(v bool) *bool { return &v }

var (
	worker = Actor{ID: 7, Name: "Rui Gomes", Role: "worker"}
	admin  = Actor{ID: 1, Name: "Ana Dias", Role: "admin"}
)

// newMachineFixture returns a machine over one property and one task in the
// given status.
func newMachineFixture(t *testing.T, status string, prop models.Property) (*TaskStateMachine, *fakeTaskStore, *models.CleaningTask) {
	t.Helper()
	store := newFakeTaskStore()
	prop.Model = gorm.Model{ID: 10}
	store.props[10] = &prop

	task := &models.CleaningTask{
		Model:      gorm.Model{ID: 20},
		PropertyID: 10,
		Status:     status,
		IsActive:   boolPtr(true),
	}
	if err := task.SetChecklistItems([]models.ChecklistItem{
		{ID: "a", Title: "Change sheets", Category: "bedroom", Completed: true},
		{ID: "b", Title: "Scrub shower", Category: "bathroom", Completed: true},
	}); err != nil {
		t.Fatal(err)
	}
	store.tasks[20] = task

	return NewTaskStateMachine(store, NewProximityGate()), store, task
}

func grantedAt(lat, lng float64) StaticPositionProvider {
	return StaticPositionProvider{Result: PositionResult{State: PermissionGranted, Lat: lat, Lng: lng}}
}

func TestReleaseFromWaiting(t *testing.T) {
	m, _, _ := newMachineFixture(t, models.StatusWaiting, models.Property{})

	task, err := m.Transition(context.Background(), 20, ActionRelease, admin, TransitionRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if task.Status != models.StatusReleased {
		t.Errorf("status = %q", task.Status)
	}

	entries, _ := task.HistoryEntries()
	if len(entries) != 1 || entries[0].Action != ActionRelease {
		t.Fatalf("expected one release history entry, got %+v", entries)
	}
	if entries[0].From != models.StatusWaiting || entries[0].To != models.StatusReleased {
		t.Errorf("history from/to = %s/%s", entries[0].From, entries[0].To)
	}
}

func TestReleaseTwiceRejected(t *testing.T) {
	m, _, _ := newMachineFixture(t, models.StatusReleased, models.Property{})

	_, err := m.Transition(context.Background(), 20, ActionRelease, admin, TransitionRequest{})
	var gerr *GuardError
	if !errors.As(err, &gerr) || gerr.Code != "invalid_transition" {
		t.Fatalf("expected invalid_transition, got %v", err)
	}
}

func TestStartRequiresProximity(t *testing.T) {
	lat, lng := 40.0, -74.0
	m, _, _ := newMachineFixture(t, models.StatusReleased, models.Property{Lat: &lat, Lng: &lng})

	// Too far away.
	far := grantedAt(lat+1.0, lng)
	_, err := m.Transition(context.Background(), 20, ActionStart, worker, TransitionRequest{Position: far})
	var gerr *GuardError
	if !errors.As(err, &gerr) || gerr.Code != "too_far" {
		t.Fatalf("expected too_far, got %v", err)
	}

	// Denied permission fails closed.
	denied := StaticPositionProvider{Result: PositionResult{State: PermissionDenied}}
	_, err = m.Transition(context.Background(), 20, ActionStart, worker, TransitionRequest{Position: denied})
	if !errors.As(err, &gerr) || gerr.Code != "location_denied" {
		t.Fatalf("expected location_denied, got %v", err)
	}

	// On site.
	task, err := m.Transition(context.Background(), 20, ActionStart, worker, TransitionRequest{Position: grantedAt(lat, lng)})
	if err != nil {
		t.Fatal(err)
	}
	if task.Status != models.StatusCleaning {
		t.Errorf("status = %q", task.Status)
	}
	if task.StartedAt == nil {
		t.Error("StartedAt not recorded")
	}
	if task.AssignedToID == nil || *task.AssignedToID != worker.ID {
		t.Error("starting worker should become the assignee")
	}
}

func TestStartBypassesGateWithoutCoordinates(t *testing.T) {
	m, _, _ := newMachineFixture(t, models.StatusReleased, models.Property{})

	denied := StaticPositionProvider{Result: PositionResult{State: PermissionDenied}}
	task, err := m.Transition(context.Background(), 20, ActionStart, worker, TransitionRequest{Position: denied})
	if err != nil {
		t.Fatalf("expected bypass with no property coordinates, got %v", err)
	}
	if task.Status != models.StatusCleaning {
		t.Errorf("status = %q", task.Status)
	}

	entries, _ := task.HistoryEntries()
	if v, ok := entries[len(entries)-1].Payload["geofenceBypassed"].(bool); !ok || !v {
		t.Error("bypass should be recorded in the history payload")
	}
}

func TestStartRespectsAssignment(t *testing.T) {
	m, store, task := newMachineFixture(t, models.StatusReleased, models.Property{})
	other := uint(99)
	task.AssignedToID = &other
	task.AssignedToName = "Someone Else"
	store.tasks[20] = task

	_, err := m.Transition(context.Background(), 20, ActionStart, worker, TransitionRequest{})
	var gerr *GuardError
	if !errors.As(err, &gerr) || gerr.Code != "task_assigned" {
		t.Fatalf("expected task_assigned, got %v", err)
	}

	// An administrator can explicitly take over.
	got, err := m.Transition(context.Background(), 20, ActionStart, admin, TransitionRequest{Override: true})
	if err != nil {
		t.Fatal(err)
	}
	if got.AssignedToID == nil || *got.AssignedToID != admin.ID {
		t.Error("override should reassign the task to the admin")
	}
}

func TestCompleteChecklistGuard(t *testing.T) {
	m, store, task := newMachineFixture(t, models.StatusCleaning, models.Property{ChecklistRequired: true})
	items, _ := task.ChecklistItems()
	items[1].Completed = false
	task.SetChecklistItems(items)
	store.tasks[20] = task

	_, err := m.Transition(context.Background(), 20, ActionComplete, worker, TransitionRequest{})
	var gerr *GuardError
	if !errors.As(err, &gerr) || gerr.Code != "checklist_incomplete" {
		t.Fatalf("expected checklist_incomplete, got %v", err)
	}

	items[1].Completed = true
	task.SetChecklistItems(items)
	got, err := m.Transition(context.Background(), 20, ActionComplete, worker, TransitionRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.StatusCompleted {
		t.Errorf("status = %q", got.Status)
	}
	if got.FinishedAt == nil {
		t.Error("FinishedAt not recorded")
	}
}

func TestCompleteWithoutChecklistMandate(t *testing.T) {
	m, store, task := newMachineFixture(t, models.StatusCleaning, models.Property{ChecklistRequired: false})
	items, _ := task.ChecklistItems()
	items[0].Completed = false
	task.SetChecklistItems(items)
	store.tasks[20] = task

	if _, err := m.Transition(context.Background(), 20, ActionComplete, worker, TransitionRequest{}); err != nil {
		t.Fatalf("checklist not mandated, expected success, got %v", err)
	}
}

func TestCompletePhotoGuards(t *testing.T) {
	m, store, task := newMachineFixture(t, models.StatusCleaning, models.Property{
		ChecklistRequired:         true,
		PhotosPerCategoryRequired: true,
	})

	_, err := m.Transition(context.Background(), 20, ActionComplete, worker, TransitionRequest{})
	var gerr *GuardError
	if !errors.As(err, &gerr) || gerr.Code != "photos_missing" {
		t.Fatalf("expected photos_missing, got %v", err)
	}

	task.SetPhotoMap(map[string][]models.TaskPhoto{
		"bedroom":  {{URL: "https://cdn/x1.jpg", UploadedAt: time.Now(), UploadedBy: "Rui Gomes"}},
		"bathroom": {{URL: "https://cdn/x2.jpg", UploadedAt: time.Now(), UploadedBy: "Rui Gomes"}},
	})
	store.tasks[20] = task

	if _, err := m.Transition(context.Background(), 20, ActionComplete, worker, TransitionRequest{}); err != nil {
		t.Fatalf("all categories covered, got %v", err)
	}
}

func TestCompleteIssuePhotoGuard(t *testing.T) {
	m, store, _ := newMachineFixture(t, models.StatusCleaning, models.Property{IssuePhotoRequired: true, ChecklistRequired: false})
	store.issues[20] = []models.MaintenanceIssue{{Description: "broken lamp"}}

	_, err := m.Transition(context.Background(), 20, ActionComplete, worker, TransitionRequest{})
	var gerr *GuardError
	if !errors.As(err, &gerr) || gerr.Code != "issue_photo_missing" {
		t.Fatalf("expected issue_photo_missing, got %v", err)
	}

	withPhoto := models.MaintenanceIssue{Description: "broken lamp"}
	withPhoto.SetPhotoList([]models.IssuePhoto{{URL: "https://cdn/lamp.jpg"}})
	store.issues[20] = []models.MaintenanceIssue{withPhoto}

	if _, err := m.Transition(context.Background(), 20, ActionComplete, worker, TransitionRequest{}); err != nil {
		t.Fatalf("issue has photo, got %v", err)
	}
}

func TestRevertRules(t *testing.T) {
	m, _, _ := newMachineFixture(t, models.StatusCompleted, models.Property{})

	// Workers cannot revert.
	_, err := m.Transition(context.Background(), 20, ActionRevert, worker, TransitionRequest{TargetStatus: models.StatusCleaning, Reason: "oops"})
	var gerr *GuardError
	if !errors.As(err, &gerr) || gerr.Code != "not_allowed" {
		t.Fatalf("expected not_allowed, got %v", err)
	}

	// A reason is mandatory.
	_, err = m.Transition(context.Background(), 20, ActionRevert, admin, TransitionRequest{TargetStatus: models.StatusCleaning})
	if !errors.As(err, &gerr) || gerr.Code != "revert_reason_required" {
		t.Fatalf("expected revert_reason_required, got %v", err)
	}

	// Only earlier statuses are valid targets.
	_, err = m.Transition(context.Background(), 20, ActionRevert, admin, TransitionRequest{TargetStatus: models.StatusCompleted, Reason: "x"})
	if !errors.As(err, &gerr) || gerr.Code != "invalid_revert_target" {
		t.Fatalf("expected invalid_revert_target, got %v", err)
	}

	task, err := m.Transition(context.Background(), 20, ActionRevert, admin, TransitionRequest{
		TargetStatus: models.StatusReleased,
		Reason:       "floor was still wet, needs a second pass",
	})
	if err != nil {
		t.Fatal(err)
	}
	if task.Status != models.StatusReleased {
		t.Errorf("status = %q", task.Status)
	}
	if task.RevertReason == "" {
		t.Error("revert reason not recorded on the task")
	}
	if task.FinishedAt != nil || task.StartedAt != nil {
		t.Error("revert below cleaning should clear start/finish timestamps")
	}
}

func TestAssignBlockedWhileCleaning(t *testing.T) {
	m, _, _ := newMachineFixture(t, models.StatusCleaning, models.Property{})

	_, err := m.Transition(context.Background(), 20, ActionAssign, admin, TransitionRequest{AssigneeID: 5, AssigneeName: "Bea Nunes"})
	var gerr *GuardError
	if !errors.As(err, &gerr) || gerr.Code != "invalid_transition" {
		t.Fatalf("expected invalid_transition, got %v", err)
	}
}

func TestAssignInReleased(t *testing.T) {
	m, _, _ := newMachineFixture(t, models.StatusReleased, models.Property{})

	task, err := m.Transition(context.Background(), 20, ActionAssign, admin, TransitionRequest{AssigneeID: 5, AssigneeName: "Bea Nunes"})
	if err != nil {
		t.Fatal(err)
	}
	if task.AssignedToID == nil || *task.AssignedToID != 5 {
		t.Error("assignee not set")
	}
	if task.Status != models.StatusReleased {
		t.Errorf("assignment must not change status, got %q", task.Status)
	}
}

func TestAcknowledge(t *testing.T) {
	m, _, _ := newMachineFixture(t, models.StatusWaiting, models.Property{})

	task, err := m.Transition(context.Background(), 20, ActionAcknowledge, worker, TransitionRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if acks := task.AcknowledgementList(); len(acks) != 1 || acks[0].UserID != worker.ID {
		t.Fatalf("acks = %+v", task.AcknowledgementList())
	}

	_, err = m.Transition(context.Background(), 20, ActionAcknowledge, worker, TransitionRequest{})
	var gerr *GuardError
	if !errors.As(err, &gerr) || gerr.Code != "already_acknowledged" {
		t.Fatalf("expected already_acknowledged, got %v", err)
	}
}

func TestInactiveTaskRejectsTransitions(t *testing.T) {
	m, store, task := newMachineFixture(t, models.StatusWaiting, models.Property{})
	task.IsActive = boolPtr(false)
	store.tasks[20] = task

	_, err := m.Transition(context.Background(), 20, ActionRelease, admin, TransitionRequest{})
	var gerr *GuardError
	if !errors.As(err, &gerr) || gerr.Code != "task_inactive" {
		t.Fatalf("expected task_inactive, got %v", err)
	}
}

func TestHistoryReplayAndOrdering(t *testing.T) {
	m, _, _ := newMachineFixture(t, models.StatusWaiting, models.Property{})

	// A frozen clock forces the append path to bump equal timestamps.
	frozen := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return frozen }

	ctx := context.Background()
	if _, err := m.Transition(ctx, 20, ActionRelease, admin, TransitionRequest{}); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Transition(ctx, 20, ActionStart, worker, TransitionRequest{}); err != nil {
		t.Fatal(err)
	}
	task, err := m.Transition(ctx, 20, ActionComplete, worker, TransitionRequest{})
	if err != nil {
		t.Fatal(err)
	}

	entries, _ := task.HistoryEntries()
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	for i := 1; i < len(entries); i++ {
		if !entries[i].At.After(entries[i-1].At) {
			t.Errorf("history not strictly timestamp-ordered at %d: %v !> %v", i, entries[i].At, entries[i-1].At)
		}
	}
	if got := ReplayStatus(entries); got != task.Status {
		t.Errorf("ReplayStatus = %q, task status = %q", got, task.Status)
	}
}
