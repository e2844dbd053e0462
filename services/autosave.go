package services

import (
	"log"
	"sort"
	"sync"
	"time"

	"github.com/suporteanfitriao-svg/upkeep-beacon-sub002/models"

	"gorm.io/gorm"
)

// DefaultAutosaveDebounce is how long a category's edits are allowed to
// quiet down before they are committed.
const DefaultAutosaveDebounce = 800 * time.Millisecond

// SnapshotFunc returns the latest in-memory checklist. It is invoked at
// commit time, never captured early, so a batch can never overwrite newer
// edits with a stale copy.
type SnapshotFunc func() []models.ChecklistItem

// AutosaveStore persists one coalesced checklist batch. A successful save
// appends exactly one history entry naming every category in the batch.
type AutosaveStore interface {
	SaveChecklist(taskID uint, items []models.ChecklistItem, categories []string, actor Actor) error
}

// AutosaveCoordinator buffers in-progress checklist edits for one task,
// debouncing per category and committing with single-flight semantics: at
// most one persistence call is in flight at any time, and categories that
// want to commit while a write is running are queued and retried as a fresh
// batch afterwards.
type AutosaveCoordinator struct {
	taskID   uint
	store    AutosaveStore
	debounce time.Duration

	mu        sync.Mutex
	cond      *sync.Cond
	timers    map[string]*time.Timer
	dirty     map[string]bool // failed saves awaiting retry
	queued    map[string]bool // deferred while a write is in flight
	lastSaved map[string]time.Time
	snapshot  SnapshotFunc
	actor     Actor
	inFlight  bool
	disposed  bool
}

func NewAutosaveCoordinator(taskID uint, store AutosaveStore, debounce time.Duration) *AutosaveCoordinator {
	if debounce <= 0 {
		debounce = DefaultAutosaveDebounce
	}
	c := &AutosaveCoordinator{
		taskID:    taskID,
		store:     store,
		debounce:  debounce,
		timers:    map[string]*time.Timer{},
		dirty:     map[string]bool{},
		queued:    map[string]bool{},
		lastSaved: map[string]time.Time{},
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Schedule records an edit to one category. The category's debounce timer is
// reset: the last scheduled timer wins. snapshot must return the full
// current checklist when called.
func (c *AutosaveCoordinator) Schedule(category string, snapshot SnapshotFunc, actor Actor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return
	}
	c.snapshot = snapshot
	c.actor = actor
	if t, ok := c.timers[category]; ok {
		t.Stop()
	}
	c.timers[category] = time.AfterFunc(c.debounce, c.onTimerFire)
}

// onTimerFire commits every category with a live timer, not just the one
// that fired, coalescing near-simultaneous edits into a single write.
func (c *AutosaveCoordinator) onTimerFire() {
	c.mu.Lock()
	defer c.mu.Unlock()
	cats := c.collectLocked()
	if len(cats) == 0 {
		return
	}
	if c.inFlight {
		for _, cat := range cats {
			c.queued[cat] = true
		}
		return
	}
	c.commitLocked(cats)
}

// collectLocked drains every pending source: live timers are cancelled,
// failed categories are picked up for retry, queued ones are merged in.
// Caller holds c.mu.
func (c *AutosaveCoordinator) collectLocked() []string {
	set := map[string]bool{}
	for cat, t := range c.timers {
		t.Stop()
		delete(c.timers, cat)
		set[cat] = true
	}
	for cat := range c.dirty {
		set[cat] = true
	}
	for cat := range c.queued {
		delete(c.queued, cat)
		set[cat] = true
	}
	cats := make([]string, 0, len(set))
	for cat := range set {
		cats = append(cats, cat)
	}
	sort.Strings(cats)
	return cats
}

// commitLocked writes one batch. Enters and leaves with c.mu held; the lock
// is released for the duration of the store call.
func (c *AutosaveCoordinator) commitLocked(cats []string) error {
	if len(cats) == 0 {
		return nil
	}
	c.inFlight = true
	snapshot := c.snapshot
	actor := c.actor
	c.mu.Unlock()

	var items []models.ChecklistItem
	if snapshot != nil {
		items = snapshot()
	}
	err := c.store.SaveChecklist(c.taskID, items, cats, actor)

	c.mu.Lock()
	c.inFlight = false
	if err != nil {
		log.Printf("autosave: task %d save failed for %v: %v", c.taskID, cats, err)
		for _, cat := range cats {
			c.dirty[cat] = true
		}
	} else {
		now := time.Now()
		for _, cat := range cats {
			c.lastSaved[cat] = now
			delete(c.dirty, cat)
		}
	}

	if len(c.queued) > 0 && !c.disposed {
		go c.retryQueued()
	}
	c.cond.Broadcast()
	return err
}

func (c *AutosaveCoordinator) retryQueued() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.inFlight {
		c.cond.Wait()
	}
	next := make([]string, 0, len(c.queued))
	for cat := range c.queued {
		next = append(next, cat)
	}
	if len(next) == 0 {
		return
	}
	c.queued = map[string]bool{}
	sort.Strings(next)
	c.commitLocked(next)
}

// Flush force-commits one category immediately, cancelling its timer. It
// blocks until any in-flight write finishes first.
func (c *AutosaveCoordinator) Flush(category string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	pending := c.dirty[category] || c.queued[category]
	if t, ok := c.timers[category]; ok {
		t.Stop()
		delete(c.timers, category)
		pending = true
	}
	if !pending {
		return nil
	}
	delete(c.queued, category)

	for c.inFlight {
		c.cond.Wait()
	}
	return c.commitLocked([]string{category})
}

// FlushAll force-commits every pending category in one write. Call before
// discarding the coordinator so no unsaved edit is dropped.
func (c *AutosaveCoordinator) FlushAll() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for c.inFlight {
		c.cond.Wait()
	}
	cats := c.collectLocked()
	if len(cats) == 0 {
		return nil
	}
	return c.commitLocked(cats)
}

// Dispose flushes everything and makes further Schedule calls no-ops. Edits
// scheduled while a flush is still writing are committed too; only after the
// coordinator is drained does it stop accepting work.
func (c *AutosaveCoordinator) Dispose() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var err error
	for {
		for c.inFlight {
			c.cond.Wait()
		}
		cats := c.collectLocked()
		if len(cats) == 0 {
			break
		}
		if err = c.commitLocked(cats); err != nil {
			break
		}
	}

	c.disposed = true
	for cat, t := range c.timers {
		t.Stop()
		delete(c.timers, cat)
	}
	return err
}

// HasPending reports whether the category has an uncommitted edit (debounce
// running, queued behind a write, or awaiting retry after a failure).
func (c *AutosaveCoordinator) HasPending(category string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, timed := c.timers[category]
	return timed || c.dirty[category] || c.queued[category]
}

func (c *AutosaveCoordinator) IsSaving() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight
}

func (c *AutosaveCoordinator) LastSavedAt(category string) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.lastSaved[category]
	return t, ok
}

// LastSaved returns a copy of the per-category commit times.
func (c *AutosaveCoordinator) LastSaved() map[string]time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]time.Time, len(c.lastSaved))
	for cat, t := range c.lastSaved {
		out[cat] = t
	}
	return out
}

// PendingCategories lists every category with uncommitted edits.
func (c *AutosaveCoordinator) PendingCategories() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	set := map[string]bool{}
	for cat := range c.timers {
		set[cat] = true
	}
	for cat := range c.dirty {
		set[cat] = true
	}
	for cat := range c.queued {
		set[cat] = true
	}
	cats := make([]string, 0, len(set))
	for cat := range set {
		cats = append(cats, cat)
	}
	sort.Strings(cats)
	return cats
}

// AutosaveRegistry hands out one coordinator per task for the HTTP layer.
type AutosaveRegistry struct {
	mu       sync.Mutex
	store    AutosaveStore
	debounce time.Duration
	coords   map[uint]*AutosaveCoordinator
}

func NewAutosaveRegistry(store AutosaveStore, debounce time.Duration) *AutosaveRegistry {
	return &AutosaveRegistry{
		store:    store,
		debounce: debounce,
		coords:   map[uint]*AutosaveCoordinator{},
	}
}

func (r *AutosaveRegistry) For(taskID uint) *AutosaveCoordinator {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.coords[taskID]; ok {
		return c
	}
	c := NewAutosaveCoordinator(taskID, r.store, r.debounce)
	r.coords[taskID] = c
	return c
}

// Dispose flushes and removes a task's coordinator.
func (r *AutosaveRegistry) Dispose(taskID uint) error {
	r.mu.Lock()
	c, ok := r.coords[taskID]
	delete(r.coords, taskID)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return c.Dispose()
}

// GormAutosaveStore persists a batch onto the task row and appends the
// single audit entry for it.
type GormAutosaveStore struct {
	db *gorm.DB
}

func NewGormAutosaveStore(db *gorm.DB) *GormAutosaveStore {
	return &GormAutosaveStore{db: db}
}

func (s *GormAutosaveStore) SaveChecklist(taskID uint, items []models.ChecklistItem, categories []string, actor Actor) error {
	var task models.CleaningTask
	if err := s.db.First(&task, taskID).Error; err != nil {
		return err
	}
	applied, err := applyChecklistBatch(&task, items, categories, actor)
	if err != nil {
		return err
	}
	if !applied {
		log.Printf("autosave: task %d is %s, dropping late checklist batch %v", taskID, task.Status, categories)
		return nil
	}
	return s.db.Save(&task).Error
}

// applyChecklistBatch writes one coalesced batch onto the task with its
// single audit entry. The task is re-checked at commit time: a debounced
// write that lands after the task has left cleaning must not rewrite the
// finalized checklist.
func applyChecklistBatch(task *models.CleaningTask, items []models.ChecklistItem, categories []string, actor Actor) (bool, error) {
	if task.Status != models.StatusCleaning {
		return false, nil
	}
	if err := task.SetChecklistItems(items); err != nil {
		return false, err
	}
	cats := make([]interface{}, len(categories))
	for i, cat := range categories {
		cats[i] = cat
	}
	if err := task.AppendHistory(models.HistoryEntry{
		At:        time.Now().UTC(),
		ActorID:   actor.ID,
		ActorName: actor.Name,
		ActorRole: actor.Role,
		Action:    "checklist_saved",
		From:      task.Status,
		To:        task.Status,
		Payload:   map[string]interface{}{"categories": cats},
	}); err != nil {
		return false, err
	}
	return true, nil
}
