package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/suporteanfitriao-svg/upkeep-beacon-sub002/models"

	"gorm.io/gorm"
)

// NotificationService pushes task status changes to the people who care:
// the assigned worker and the administrators. It subscribes to the state
// machine's transition hooks; email/dashboard collaborators can subscribe
// the same way.
type NotificationService struct {
	db     *gorm.DB
	client *http.Client
}

func NewNotificationService(db *gorm.DB) *NotificationService {
	return &NotificationService{
		db:     db,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// OnTransition is the TransitionHook wired into the state machine.
func (ns *NotificationService) OnTransition(event TransitionEvent) {
	title := fmt.Sprintf("Task: %s", event.Task.PropertyName)
	body := fmt.Sprintf("%s moved the task from %s to %s", event.Actor.Name, event.From, event.To)
	data := map[string]string{
		"type":   "task_transition",
		"taskID": fmt.Sprintf("%d", event.Task.ID),
		"from":   event.From,
		"to":     event.To,
	}

	recipients := ns.recipients(event)
	for _, user := range recipients {
		if user.AllowsNotifications == nil || !*user.AllowsNotifications {
			continue
		}
		for _, token := range user.PushTokenList() {
			if err := ns.sendPush(token, title, body, data); err != nil {
				log.Printf("notify: push to user %d failed: %v", user.ID, err)
			}
		}
	}
}

func (ns *NotificationService) recipients(event TransitionEvent) []models.User {
	var users []models.User

	q := ns.db.Where("role IN ?", []string{"admin", "super_admin"})
	if event.Task.AssignedToID != nil && *event.Task.AssignedToID != event.Actor.ID {
		q = q.Or("id = ?", *event.Task.AssignedToID)
	}
	if err := q.Find(&users).Error; err != nil {
		log.Printf("notify: loading recipients failed: %v", err)
		return nil
	}

	// The actor already knows; don't echo their own action back.
	filtered := users[:0]
	for _, u := range users {
		if u.ID != event.Actor.ID {
			filtered = append(filtered, u)
		}
	}
	return filtered
}

// sendPush delivers one Expo push message.
func (ns *NotificationService) sendPush(token, title, body string, data map[string]string) error {
	payload := map[string]interface{}{
		"to":    token,
		"title": title,
		"body":  body,
		"data":  data,
		"sound": "default",
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, "https://exp.host/--/api/v2/push/send", bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	res, err := ns.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode >= 300 {
		return fmt.Errorf("push service returned status %d", res.StatusCode)
	}
	return nil
}
