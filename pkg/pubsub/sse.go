package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/ritzau/assetpipe/pkg/logging"
)

// ErrClosed is returned once the publisher has shut down
var ErrClosed = errors.New("publisher is closed")

// subscriberBuffer is how many events a slow browser tab may lag behind
// before events are dropped for it
const subscriberBuffer = 100

// TopicConfig configures buffering behavior for a topic
type TopicConfig struct {
	BufferSize int  // Number of events to keep for late subscribers (0 = none)
	ReplayAll  bool // Replay the whole buffer instead of only the latest event
}

// topicState is everything the publisher tracks for one topic
type topicState struct {
	config  TopicConfig
	version int
	history []Event
	subs    map[*sseSubscription]struct{}
}

// replay returns the events a new subscriber should see first
func (t *topicState) replay() []Event {
	if len(t.history) == 0 {
		return nil
	}
	if t.config.ReplayAll {
		return append([]Event(nil), t.history...)
	}
	return []Event{t.history[len(t.history)-1]}
}

// record appends ev to the history, keeping the configured size
func (t *topicState) record(ev Event) {
	if t.config.BufferSize <= 0 {
		return
	}
	t.history = append(t.history, ev)
	if over := len(t.history) - t.config.BufferSize; over > 0 {
		t.history = append([]Event(nil), t.history[over:]...)
	}
}

// SSEPublisher fans events out to Server-Sent Event streams. Reload events
// are fire-and-forget; build status is buffered so a freshly opened page
// learns the current state.
type SSEPublisher struct {
	mu     sync.RWMutex
	topics map[string]*topicState
	closed bool
}

// NewSSEPublisher creates a new SSE-based publisher
func NewSSEPublisher() *SSEPublisher {
	return &SSEPublisher{topics: make(map[string]*topicState)}
}

// topic returns the state of name, creating it. Callers hold the write lock.
func (p *SSEPublisher) topic(name string) *topicState {
	t, ok := p.topics[name]
	if !ok {
		t = &topicState{subs: make(map[*sseSubscription]struct{})}
		p.topics[name] = t
	}
	return t
}

// ConfigureTopic sets buffering configuration for a topic
func (p *SSEPublisher) ConfigureTopic(name string, config TopicConfig) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topic(name).config = config
}

// Subscribe registers a subscriber and queues the topic's replay for it. The
// subscription ends when ctx is done.
func (p *SSEPublisher) Subscribe(ctx context.Context, name string) (Subscription, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}

	sub := &sseSubscription{
		topic:     name,
		events:    make(chan Event, subscriberBuffer),
		done:      make(chan struct{}),
		publisher: p,
	}
	t := p.topic(name)
	t.subs[sub] = struct{}{}

	// The channel is fresh and no publish can interleave while the lock is held
	replay := t.replay()
	for i, ev := range replay {
		if i == subscriberBuffer {
			logging.Warn("replay truncated", "topic", name, "events", len(replay))
			break
		}
		sub.events <- ev
	}
	p.mu.Unlock()

	if len(replay) > 0 {
		logging.Debug("replayed events to new subscriber", "count", len(replay), "topic", name)
	}

	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.done:
		}
	}()

	return sub, nil
}

// Publish sends an event to all subscribers of a topic. Subscribers that are
// too far behind miss the event rather than stall the build.
func (p *SSEPublisher) Publish(name string, eventType string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}

	t := p.topic(name)
	t.version++
	ev := Event{Topic: name, Type: eventType, Data: payload, Version: t.version}
	t.record(ev)

	for sub := range t.subs {
		select {
		case sub.events <- ev:
		default:
			logging.Warn("subscriber lagging, dropping event", "topic", name, "version", ev.Version)
		}
	}
	return nil
}

// Close ends every subscription. Their event channels are closed.
func (p *SSEPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	for _, t := range p.topics {
		for sub := range t.subs {
			close(sub.events)
		}
		t.subs = make(map[*sseSubscription]struct{})
	}
	return nil
}

// Subscribers returns the number of live subscriptions to a topic
func (p *SSEPublisher) Subscribers(name string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if t, ok := p.topics[name]; ok {
		return len(t.subs)
	}
	return 0
}

// Latest returns the most recent buffered event of a topic
func (p *SSEPublisher) Latest(name string) (Event, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	t, ok := p.topics[name]
	if !ok || len(t.history) == 0 {
		return Event{}, false
	}
	return t.history[len(t.history)-1], true
}

func (p *SSEPublisher) unsubscribe(sub *sseSubscription) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t, ok := p.topics[sub.topic]; ok {
		delete(t.subs, sub)
	}
}

type sseSubscription struct {
	topic     string
	events    chan Event
	done      chan struct{}
	publisher *SSEPublisher
	once      sync.Once
}

func (s *sseSubscription) Topic() string {
	return s.topic
}

func (s *sseSubscription) Events() <-chan Event {
	return s.events
}

// Close detaches the subscription. Its channel stays open; only the
// publisher closes event channels.
func (s *sseSubscription) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.publisher.unsubscribe(s)
	})
	return nil
}

// WriteSSE writes one event frame: "id: {version}\ndata: {json}\n\n"
func WriteSSE(w io.Writer, event Event) error {
	frame, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	_, err = fmt.Fprintf(w, "id: %d\ndata: %s\n\n", event.Version, frame)
	return err
}
