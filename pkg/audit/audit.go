package audit

import (
	"log"
	"net/http"
	"time"

	"github.com/srobinson/alphab-auth-gateway/pkg/encryption"
	"github.com/srobinson/alphab-auth-gateway/pkg/handlerutils"
)

// Event types recorded by the gateway.
const (
	EventSigninInitiation = "signin_initiation"
	EventAuthentication   = "authentication"
	EventTokenRefresh     = "token_refresh"
	EventSignout          = "signout"
)

// Event is one audit trail entry.
type Event struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	Timestamp time.Time `gorm:"not null;index" json:"timestamp"`
	EventType string    `gorm:"not null;index" json:"event_type"`
	UserID    string    `gorm:"index" json:"user_id"`
	IPAddress string    `json:"ip_address"`
	UserAgent string    `json:"user_agent"`
	Success   bool      `gorm:"not null" json:"success"`
	Details   string    `json:"details,omitempty"`
}

func (Event) TableName() string {
	return "audit_events"
}

// New builds an event from the request that triggered it. Success defaults
// to true; callers flip it and fill UserID and Details before recording.
func New(r *http.Request, eventType string) *Event {
	return &Event{
		ID:        encryption.GenerateRandomString(16),
		Timestamp: time.Now(),
		EventType: eventType,
		IPAddress: handlerutils.GetClientIP(r),
		UserAgent: r.UserAgent(),
		Success:   true,
	}
}

// Sink receives audit events. Recording is fire-and-forget: implementations
// must never fail the request that produced the event.
type Sink interface {
	Record(event *Event)
}

// LogSink writes events to the process log.
type LogSink struct{}

func (LogSink) Record(event *Event) {
	log.Printf("audit: type=%s user=%s ip=%s success=%t details=%s",
		event.EventType, event.UserID, event.IPAddress, event.Success, event.Details)
}

// MultiSink fans an event out to every sink, in order. The gateway uses it
// to put each event in the process log and the database.
func MultiSink(sinks ...Sink) Sink {
	return multiSink(sinks)
}

type multiSink []Sink

func (m multiSink) Record(event *Event) {
	for _, sink := range m {
		sink.Record(event)
	}
}
