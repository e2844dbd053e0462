package services

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/suporteanfitriao-svg/upkeep-beacon-sub002/models"

	"gorm.io/gorm"
)

var releaseActor = Actor{Name: "auto-release", Role: "system"}

// AutoReleaser periodically releases waiting tasks for properties with
// automatic release enabled, at check-out time or the configured number of
// minutes before it.
type AutoReleaser struct {
	db       *gorm.DB
	machine  *TaskStateMachine
	interval time.Duration
	now      func() time.Time
	stop     chan struct{}
}

func NewAutoReleaser(db *gorm.DB, machine *TaskStateMachine, interval time.Duration) *AutoReleaser {
	if interval <= 0 {
		interval = time.Minute
	}
	return &AutoReleaser{
		db:       db,
		machine:  machine,
		interval: interval,
		now:      time.Now,
		stop:     make(chan struct{}),
	}
}

func (r *AutoReleaser) Start() {
	go func() {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n, err := r.RunOnce(context.Background()); err != nil {
					log.Printf("auto-release: run failed: %v", err)
				} else if n > 0 {
					log.Printf("auto-release: released %d task(s)", n)
				}
			case <-r.stop:
				return
			}
		}
	}()
}

func (r *AutoReleaser) Stop() {
	close(r.stop)
}

// RunOnce releases every due waiting task and returns how many went through.
func (r *AutoReleaser) RunOnce(ctx context.Context) (int, error) {
	var tasks []models.CleaningTask
	if err := r.db.Preload("Property").Where("status = ?", models.StatusWaiting).Find(&tasks).Error; err != nil {
		return 0, err
	}

	now := r.now()
	released := 0
	for _, task := range tasks {
		prop := task.Property
		if prop == nil || !prop.AutoRelease {
			continue
		}
		if task.IsActive != nil && !*task.IsActive {
			continue
		}
		due := task.CheckOut.Add(-time.Duration(prop.ReleaseLeadMinutes) * time.Minute)
		if now.Before(due) {
			continue
		}

		_, err := r.machine.Transition(ctx, task.ID, ActionRelease, releaseActor, TransitionRequest{
			Payload: map[string]interface{}{"trigger": "auto"},
		})
		if err != nil {
			var gerr *GuardError
			if errors.As(err, &gerr) {
				// someone beat the timer to it; nothing to do
				continue
			}
			log.Printf("auto-release: task %d: %v", task.ID, err)
			continue
		}
		released++
	}
	return released, nil
}
