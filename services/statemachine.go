package services

import (
	"context"
	"fmt"
	"time"

	"github.com/suporteanfitriao-svg/upkeep-beacon-sub002/models"

	"gorm.io/gorm"
)

// Actor is the resolved caller identity a transition is attributed to.
type Actor struct {
	ID   uint   `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}

func (a Actor) IsAdmin() bool {
	return a.Role == "admin" || a.Role == "super_admin"
}

// Task actions dispatched through the state machine.
const (
	ActionRelease     = "release"
	ActionStart       = "start"
	ActionComplete    = "complete"
	ActionRevert      = "revert"
	ActionAssign      = "assign"
	ActionAcknowledge = "acknowledge"
)

var statusOrder = map[string]int{
	models.StatusWaiting:   0,
	models.StatusReleased:  1,
	models.StatusCleaning:  2,
	models.StatusCompleted: 3,
}

// TaskStore is the persistence port the state machine operates through.
type TaskStore interface {
	Task(id uint) (*models.CleaningTask, error)
	Property(id uint) (*models.Property, error)
	SaveTask(t *models.CleaningTask) error
	TaskIssues(taskID uint) ([]models.MaintenanceIssue, error)
}

// TransitionRequest carries the action-specific inputs of a transition.
type TransitionRequest struct {
	// Position feeds the proximity gate on "start".
	Position PositionProvider
	// Override lets an administrator take over a task assigned to someone
	// else on "start".
	Override bool
	// Reason is mandatory on "revert".
	Reason string
	// TargetStatus is the earlier status "revert" goes back to.
	TargetStatus string
	// Assignee* designate the new responsible worker on "assign".
	AssigneeID   uint
	AssigneeName string
	// Payload is merged into the history entry.
	Payload map[string]interface{}
}

type TransitionEvent struct {
	Task   *models.CleaningTask
	Action string
	From   string
	To     string
	Actor  Actor
}

// TransitionHook observes accepted status changes, e.g. for push
// notifications or email. Hooks run synchronously after the task is saved.
type TransitionHook func(TransitionEvent)

type transitionRule struct {
	from  []string
	apply func(m *TaskStateMachine, ctx context.Context, task *models.CleaningTask, prop *models.Property, actor Actor, req TransitionRequest) (string, map[string]interface{}, *GuardError)
}

// TaskStateMachine guards every task status mutation. All accepted
// transitions append exactly one history entry; replaying the history always
// reconstructs the current status.
type TaskStateMachine struct {
	store TaskStore
	gate  *ProximityGate
	hooks []TransitionHook
	now   func() time.Time
}

func NewTaskStateMachine(store TaskStore, gate *ProximityGate) *TaskStateMachine {
	if gate == nil {
		gate = NewProximityGate()
	}
	return &TaskStateMachine{store: store, gate: gate, now: time.Now}
}

func (m *TaskStateMachine) Subscribe(hook TransitionHook) {
	m.hooks = append(m.hooks, hook)
}

var transitionRules = map[string]transitionRule{
	ActionRelease: {
		from:  []string{models.StatusWaiting},
		apply: applyRelease,
	},
	ActionStart: {
		from:  []string{models.StatusReleased},
		apply: applyStart,
	},
	ActionComplete: {
		from:  []string{models.StatusCleaning},
		apply: applyComplete,
	},
	ActionRevert: {
		from:  []string{models.StatusReleased, models.StatusCleaning, models.StatusCompleted},
		apply: applyRevert,
	},
	ActionAssign: {
		// Reassignment is blocked while someone is actively cleaning.
		from:  []string{models.StatusWaiting, models.StatusReleased, models.StatusCompleted},
		apply: applyAssign,
	},
	ActionAcknowledge: {
		from:  []string{models.StatusWaiting, models.StatusReleased, models.StatusCleaning, models.StatusCompleted},
		apply: applyAcknowledge,
	},
}

// Transition loads the task, dispatches the action through the transition
// table and persists the result. Guard violations come back as *GuardError;
// anything else is an infrastructure failure.
func (m *TaskStateMachine) Transition(ctx context.Context, taskID uint, action string, actor Actor, req TransitionRequest) (*models.CleaningTask, error) {
	rule, ok := transitionRules[action]
	if !ok {
		return nil, &GuardError{Code: "unknown_action", Message: fmt.Sprintf("unknown task action %q", action)}
	}

	task, err := m.store.Task(taskID)
	if err != nil {
		return nil, err
	}
	if task.IsActive != nil && !*task.IsActive {
		return nil, &GuardError{Code: "task_inactive", Message: "task has been deactivated"}
	}

	allowed := false
	for _, from := range rule.from {
		if task.Status == from {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, &GuardError{
			Code:    "invalid_transition",
			Message: fmt.Sprintf("cannot %s a task in status %q", action, task.Status),
		}
	}

	prop, err := m.store.Property(task.PropertyID)
	if err != nil {
		return nil, err
	}

	from := task.Status
	to, payload, gerr := rule.apply(m, ctx, task, prop, actor, req)
	if gerr != nil {
		return nil, gerr
	}

	for k, v := range req.Payload {
		if payload == nil {
			payload = map[string]interface{}{}
		}
		if _, exists := payload[k]; !exists {
			payload[k] = v
		}
	}

	task.Status = to
	if err := task.AppendHistory(models.HistoryEntry{
		At:        m.now().UTC(),
		ActorID:   actor.ID,
		ActorName: actor.Name,
		ActorRole: actor.Role,
		Action:    action,
		From:      from,
		To:        to,
		Payload:   payload,
	}); err != nil {
		return nil, err
	}

	if err := m.store.SaveTask(task); err != nil {
		return nil, err
	}

	if from != to {
		event := TransitionEvent{Task: task, Action: action, From: from, To: to, Actor: actor}
		for _, hook := range m.hooks {
			hook(event)
		}
	}

	return task, nil
}

func applyRelease(m *TaskStateMachine, _ context.Context, _ *models.CleaningTask, _ *models.Property, _ Actor, req TransitionRequest) (string, map[string]interface{}, *GuardError) {
	trigger := "manual"
	if t, ok := req.Payload["trigger"].(string); ok && t != "" {
		trigger = t
	}
	return models.StatusReleased, map[string]interface{}{"trigger": trigger}, nil
}

func applyStart(m *TaskStateMachine, ctx context.Context, task *models.CleaningTask, prop *models.Property, actor Actor, req TransitionRequest) (string, map[string]interface{}, *GuardError) {
	if task.AssignedToID != nil && *task.AssignedToID != actor.ID {
		if !(actor.IsAdmin() && req.Override) {
			return "", nil, &GuardError{
				Code:    "task_assigned",
				Message: fmt.Sprintf("task is assigned to %s", task.AssignedToName),
			}
		}
	}

	check, gerr := m.gate.Check(ctx, prop.Lat, prop.Lng, req.Position)
	if gerr != nil {
		return "", nil, gerr
	}

	now := m.now().UTC()
	task.StartedAt = &now
	if task.AssignedToID == nil || (actor.IsAdmin() && req.Override) {
		id := actor.ID
		task.AssignedToID = &id
		task.AssignedToName = actor.Name
	}

	payload := map[string]interface{}{"geofenceBypassed": check.Bypassed}
	if !check.Bypassed {
		payload["distanceMeters"] = check.DistanceMeters
	}
	return models.StatusCleaning, payload, nil
}

func applyComplete(m *TaskStateMachine, _ context.Context, task *models.CleaningTask, prop *models.Property, _ Actor, _ TransitionRequest) (string, map[string]interface{}, *GuardError) {
	items, err := task.ChecklistItems()
	if err != nil {
		return "", nil, &GuardError{Code: "checklist_unreadable", Message: err.Error()}
	}

	if prop.ChecklistRequired {
		remaining := 0
		for _, item := range items {
			if !item.Completed {
				remaining++
			}
		}
		if remaining > 0 {
			return "", nil, &GuardError{
				Code:    "checklist_incomplete",
				Message: fmt.Sprintf("checklist incomplete: %d item(s) not done", remaining),
			}
		}
	}

	if prop.PhotosPerCategoryRequired {
		photos, err := task.PhotoMap()
		if err != nil {
			return "", nil, &GuardError{Code: "photos_unreadable", Message: err.Error()}
		}
		seen := map[string]bool{}
		for _, item := range items {
			if item.Category == "" || seen[item.Category] {
				continue
			}
			seen[item.Category] = true
			if len(photos[item.Category]) == 0 {
				return "", nil, &GuardError{
					Code:    "photos_missing",
					Message: fmt.Sprintf("no photo recorded for category %q", item.Category),
				}
			}
		}
	}

	if prop.IssuePhotoRequired {
		issues, err := m.store.TaskIssues(task.ID)
		if err != nil {
			return "", nil, &GuardError{Code: "issues_unreadable", Message: err.Error()}
		}
		for _, issue := range issues {
			if len(issue.PhotoList()) == 0 {
				return "", nil, &GuardError{
					Code:    "issue_photo_missing",
					Message: fmt.Sprintf("reported issue %q has no photo", issue.Description),
				}
			}
		}
	}

	now := m.now().UTC()
	task.FinishedAt = &now
	return models.StatusCompleted, nil, nil
}

func applyRevert(m *TaskStateMachine, _ context.Context, task *models.CleaningTask, _ *models.Property, actor Actor, req TransitionRequest) (string, map[string]interface{}, *GuardError) {
	if !actor.IsAdmin() {
		return "", nil, &GuardError{Code: "not_allowed", Message: "only administrators can revert a task"}
	}
	if req.Reason == "" {
		return "", nil, &GuardError{Code: "revert_reason_required", Message: "a revert must record a reason"}
	}

	target := req.TargetStatus
	targetOrder, ok := statusOrder[target]
	if !ok || targetOrder >= statusOrder[task.Status] {
		return "", nil, &GuardError{
			Code:    "invalid_revert_target",
			Message: fmt.Sprintf("cannot revert from %q to %q", task.Status, target),
		}
	}

	task.RevertReason = req.Reason
	if targetOrder < statusOrder[models.StatusCompleted] {
		task.FinishedAt = nil
	}
	if targetOrder < statusOrder[models.StatusCleaning] {
		task.StartedAt = nil
	}
	return target, map[string]interface{}{"reason": req.Reason}, nil
}

func applyAssign(m *TaskStateMachine, _ context.Context, task *models.CleaningTask, _ *models.Property, actor Actor, req TransitionRequest) (string, map[string]interface{}, *GuardError) {
	if !actor.IsAdmin() {
		return "", nil, &GuardError{Code: "not_allowed", Message: "only administrators can reassign a task"}
	}
	if req.AssigneeID == 0 {
		return "", nil, &GuardError{Code: "assignee_required", Message: "an assignee is required"}
	}

	id := req.AssigneeID
	task.AssignedToID = &id
	task.AssignedToName = req.AssigneeName
	return task.Status, map[string]interface{}{
		"assigneeID":   req.AssigneeID,
		"assigneeName": req.AssigneeName,
	}, nil
}

func applyAcknowledge(m *TaskStateMachine, _ context.Context, task *models.CleaningTask, _ *models.Property, actor Actor, _ TransitionRequest) (string, map[string]interface{}, *GuardError) {
	acks := task.AcknowledgementList()
	for _, ack := range acks {
		if ack.UserID == actor.ID {
			return "", nil, &GuardError{Code: "already_acknowledged", Message: "task already acknowledged"}
		}
	}
	acks = append(acks, models.Acknowledgement{UserID: actor.ID, Name: actor.Name, At: m.now().UTC()})
	if err := task.SetAcknowledgementList(acks); err != nil {
		return "", nil, &GuardError{Code: "ack_unwritable", Message: err.Error()}
	}
	return task.Status, nil, nil
}

// ReplayStatus folds a task's history back into its current status. Used to
// verify the audit trail is complete.
func ReplayStatus(entries []models.HistoryEntry) string {
	status := models.StatusWaiting
	for _, entry := range entries {
		if entry.To != "" {
			status = entry.To
		}
	}
	return status
}

// GormTaskStore is the database-backed persistence port.
type GormTaskStore struct {
	db *gorm.DB
}

func NewGormTaskStore(db *gorm.DB) *GormTaskStore {
	return &GormTaskStore{db: db}
}

func (s *GormTaskStore) Task(id uint) (*models.CleaningTask, error) {
	var task models.CleaningTask
	if err := s.db.First(&task, id).Error; err != nil {
		return nil, err
	}
	return &task, nil
}

func (s *GormTaskStore) Property(id uint) (*models.Property, error) {
	var prop models.Property
	if err := s.db.First(&prop, id).Error; err != nil {
		return nil, err
	}
	return &prop, nil
}

func (s *GormTaskStore) SaveTask(t *models.CleaningTask) error {
	return s.db.Save(t).Error
}

func (s *GormTaskStore) TaskIssues(taskID uint) ([]models.MaintenanceIssue, error) {
	var issues []models.MaintenanceIssue
	if err := s.db.Where("task_id = ?", taskID).Find(&issues).Error; err != nil {
		return nil, err
	}
	return issues, nil
}
