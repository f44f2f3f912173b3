package workflow

import (
	"log"
	"time"
)

// NotificationKind is the severity shown to the operator
type NotificationKind string

const (
	NotifyInfo    NotificationKind = "info"
	NotifySuccess NotificationKind = "success"
	NotifyWarning NotificationKind = "warning"
	NotifyError   NotificationKind = "error"
)

// Notification is one outcome reported to the operator
type Notification struct {
	Kind      NotificationKind `json:"kind"`
	Message   string           `json:"message"`
	Stage     Stage            `json:"stage,omitempty"`
	SessionID string           `json:"session_id"`
	Time      time.Time        `json:"time"`
}

// Sink receives workflow notifications. Notify is never called with the workflow lock held.
type Sink interface {
	Notify(n Notification)
}

// SinkFunc adapts a function to Sink
type SinkFunc func(n Notification)

func (f SinkFunc) Notify(n Notification) { f(n) }

// LogSink writes notifications to the standard logger
type LogSink struct{}

func (LogSink) Notify(n Notification) {
	if n.Stage != "" {
		log.Printf("[%s] %s: %s", n.Kind, n.Stage, n.Message)
		return
	}
	log.Printf("[%s] %s", n.Kind, n.Message)
}

// MultiSink fans a notification out to several sinks
type MultiSink []Sink

func (m MultiSink) Notify(n Notification) {
	for _, s := range m {
		if s != nil {
			s.Notify(n)
		}
	}
}
