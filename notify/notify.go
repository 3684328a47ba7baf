// Package notify writes one notification per privileged user for each new incident
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/irisdrone/trafficguard/analysis"
	"github.com/irisdrone/trafficguard/metrics"
	"github.com/irisdrone/trafficguard/models"
	"github.com/irisdrone/trafficguard/realtime"
	log "github.com/sirupsen/logrus"
)

// ErrFanout marks a failed notification batch
var ErrFanout = errors.New("notification fan-out failed")

// TypeIncident is the notification type written for detected incidents
const TypeIncident = "incident"

// UserLister resolves users by role
type UserLister interface {
	UsersWithRoles(ctx context.Context, roles []string) ([]models.User, error)
}

// BatchWriter stores notifications all-or-nothing
type BatchWriter interface {
	CreateBatch(ctx context.Context, rows []models.Notification) error
}

// Fanout notifies every user holding one of the configured roles
type Fanout struct {
	users       UserLister
	writer      BatchWriter
	broadcaster realtime.Broadcaster
	roles       []string
}

// Payload is the realtime form of a notification pushed to its recipient
type Payload struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Type      string    `json:"type"`
	IsRead    bool      `json:"isRead"`
	CreatedAt time.Time `json:"createdAt"`
}

func New(users UserLister, writer BatchWriter, broadcaster realtime.Broadcaster, roles []string) *Fanout {
	return &Fanout{users: users, writer: writer, broadcaster: broadcaster, roles: roles}
}

// Recipients returns the users that receive incident notifications
func (f *Fanout) Recipients(ctx context.Context) ([]models.User, error) {
	return f.users.UsersWithRoles(ctx, f.roles)
}

// Notify writes one notification per recipient for incident and pushes each to its
// recipient's room. It returns the number of notifications written.
func (f *Fanout) Notify(ctx context.Context, incident *models.Incident, result *analysis.Result) (int, error) {
	recipients, err := f.Recipients(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: resolving recipients: %v", ErrFanout, err)
	}
	if len(recipients) == 0 {
		return 0, nil
	}

	title := Title(incident)
	message := Message(incident, result)
	payload := models.NewJSONB(map[string]interface{}{
		"incident_id":      incident.ID,
		"ai_confidence":    incident.Confidence,
		"vehicle_count":    result.VehicleCount,
		"stationary_count": result.StationaryCount,
		"avg_speed":        result.AvgSpeed,
	})

	rows := make([]models.Notification, 0, len(recipients))
	for _, u := range recipients {
		rows = append(rows, models.Notification{
			RecipientUserID: u.ID,
			Type:            TypeIncident,
			Title:           title,
			Message:         message,
			Payload:         payload,
			IsRead:          false,
		})
	}

	if err := f.writer.CreateBatch(ctx, rows); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrFanout, err)
	}
	metrics.NotificationsCreatedTotal.Add(float64(len(rows)))
	log.Printf("📬 Notifications sent to %d users (%s)", len(rows), strings.Join(f.roles, "/"))

	for _, n := range rows {
		push := Payload{ID: n.ID, Title: n.Title, Message: n.Message, Type: n.Type, IsRead: n.IsRead, CreatedAt: n.CreatedAt}
		if err := f.broadcaster.Broadcast(ctx, realtime.EventNotificationNew, push, realtime.UserRoom(n.RecipientUserID)); err != nil {
			metrics.StageFailuresTotal.WithLabelValues("broadcast").Inc()
			log.WithError(err).WithField("user_id", n.RecipientUserID).Warn("⚠️ Failed to push notification")
		}
	}
	return len(rows), nil
}

// Title renders e.g. "AI-Detected CRITICAL accident"
func Title(incident *models.Incident) string {
	return fmt.Sprintf("AI-Detected %s %s", strings.ToUpper(string(incident.Severity)), incident.Type)
}

// Message renders the notification body
func Message(incident *models.Incident, result *analysis.Result) string {
	location := incident.LocationName
	if location == "" {
		location = "Unknown location"
	}
	msg := fmt.Sprintf("Location: %s. Confidence: %d%%. Vehicles: %d",
		location, analysis.ConfidencePercent(incident.Confidence), result.VehicleCount)
	if result.StationaryCount > 0 {
		msg += fmt.Sprintf(". Stationary: %d", result.StationaryCount)
	}
	return msg
}
