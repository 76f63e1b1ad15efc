package domain

import "time"

// EventKind classifies notifications.
type EventKind string

const (
	EventSignal        EventKind = "SIGNAL"
	EventOrderFilled   EventKind = "ORDER_FILLED"
	EventOrderRejected EventKind = "ORDER_REJECTED"
	EventOrderTimeout  EventKind = "ORDER_TIMEOUT"
	EventRiskRejected  EventKind = "RISK_REJECTED"
	EventCycleFailed   EventKind = "CYCLE_FAILED"
	EventAuthExpired   EventKind = "AUTH_EXPIRED"
	EventDailySummary  EventKind = "DAILY_SUMMARY"
	EventSystem        EventKind = "SYSTEM"
)

// EventLevel is the severity of a notification.
type EventLevel string

const (
	LevelInfo     EventLevel = "INFO"
	LevelWarning  EventLevel = "WARNING"
	LevelError    EventLevel = "ERROR"
	LevelCritical EventLevel = "CRITICAL"
)

// Event is one fire-and-forget notification.
type Event struct {
	Kind       EventKind
	Level      EventLevel
	Market     string
	Instrument string
	Title      string
	Message    string
	Fields     map[string]string
	At         time.Time
}
