package pubsub

import (
	"context"
	"encoding/json"
	"time"
)

// Topics published by the dev server
const (
	TopicReload      = "reload"       // output changed, clients refresh
	TopicBuildStatus = "build_status" // last task outcome, replayed to new clients
)

// Reload event types
const (
	ReloadPage = "reload" // full page reload
	ReloadCSS  = "css"    // swap stylesheets in place
)

// Build status event types
const (
	StatusRunning = "running"
	StatusOK      = "ok"
	StatusFailed  = "failed"
)

// Event represents a pub/sub event
type Event struct {
	Topic   string          `json:"topic"`   // Subscription topic (e.g., "reload", "build_status")
	Type    string          `json:"type"`    // Event type (e.g., "css", "reload", "failed")
	Data    json.RawMessage `json:"data"`    // Event payload
	Version int             `json:"version"` // Version number for ordering
}

// Subscription represents a client subscription to a topic
type Subscription interface {
	// Topic returns the subscription topic
	Topic() string

	// Events returns a channel for receiving events
	Events() <-chan Event

	// Close closes the subscription
	Close() error
}

// Publisher manages pub/sub subscriptions and event publishing
type Publisher interface {
	// Subscribe creates a new subscription to a topic
	// Context cancellation will close the subscription
	Subscribe(ctx context.Context, topic string) (Subscription, error)

	// Publish sends an event to all subscribers of a topic
	Publish(topic string, eventType string, data interface{}) error

	// Close shuts down the publisher and all subscriptions
	Close() error
}

// ReloadEvent lists the output files that triggered a reload
type ReloadEvent struct {
	Paths []string `json:"paths"` // URL paths relative to the served directory
}

// BuildStatus describes the most recent task run
type BuildStatus struct {
	Task       string    `json:"task"`
	State      string    `json:"state"` // running, ok, failed
	Outputs    int       `json:"outputs"`
	Failures   []string  `json:"failures,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	Time       time.Time `json:"time"`
}
