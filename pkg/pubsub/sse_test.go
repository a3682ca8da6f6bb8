package pubsub

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestEventBuffer(t *testing.T) {
	pub := NewSSEPublisher()
	defer pub.Close()

	// Configure topic with buffer size 3, replay all
	pub.ConfigureTopic(TopicBuildStatus, TopicConfig{
		BufferSize: 3,
		ReplayAll:  true,
	})

	// Publish 5 events
	for i := 1; i <= 5; i++ {
		err := pub.Publish(TopicBuildStatus, StatusOK, BuildStatus{Task: "styles", State: StatusOK, Outputs: i})
		if err != nil {
			t.Fatalf("Failed to publish event %d: %v", i, err)
		}
	}

	// Subscribe and verify we get last 3 events
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	sub, err := pub.Subscribe(ctx, TopicBuildStatus)
	if err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}
	defer sub.Close()

	// Should receive last 3 events (3, 4, 5)
	receivedCount := 0
	for receivedCount < 3 {
		select {
		case event := <-sub.Events():
			receivedCount++
			expectedVersion := receivedCount + 2
			if event.Version != expectedVersion {
				t.Errorf("Expected version %d, got %d", expectedVersion, event.Version)
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("Timeout waiting for event %d", receivedCount+1)
		}
	}
}

func TestReplayLastOnly(t *testing.T) {
	pub := NewSSEPublisher()
	defer pub.Close()

	// Configure topic with buffer size 5, replay only last
	pub.ConfigureTopic(TopicBuildStatus, TopicConfig{
		BufferSize: 5,
		ReplayAll:  false,
	})

	for _, state := range []string{StatusRunning, StatusFailed, StatusOK} {
		if err := pub.Publish(TopicBuildStatus, state, BuildStatus{Task: "html", State: state}); err != nil {
			t.Fatalf("Failed to publish %s: %v", state, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	sub, err := pub.Subscribe(ctx, TopicBuildStatus)
	if err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}
	defer sub.Close()

	// Should receive only last event
	select {
	case event := <-sub.Events():
		if event.Version != 3 || event.Type != StatusOK {
			t.Errorf("Expected version 3 (%s), got %d (%s)", StatusOK, event.Version, event.Type)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Timeout waiting for event")
	}

	// Verify no more events are sent
	select {
	case event := <-sub.Events():
		t.Errorf("Received unexpected extra event version %d", event.Version)
	case <-time.After(50 * time.Millisecond):
	}

	latest, ok := pub.Latest(TopicBuildStatus)
	if !ok || latest.Type != StatusOK {
		t.Errorf("Expected latest event %q, got %+v", StatusOK, latest)
	}
}

func TestReloadIsNotReplayed(t *testing.T) {
	pub := NewSSEPublisher()
	defer pub.Close()

	// Reloads are not buffered: a client connecting later must not reload
	for i := 1; i <= 3; i++ {
		if err := pub.Publish(TopicReload, ReloadPage, ReloadEvent{Paths: []string{"/index.html"}}); err != nil {
			t.Fatalf("Failed to publish event %d: %v", i, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	sub, err := pub.Subscribe(ctx, TopicReload)
	if err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}
	defer sub.Close()

	select {
	case event := <-sub.Events():
		t.Errorf("Received unexpected replayed event version %d", event.Version)
	case <-time.After(50 * time.Millisecond):
	}

	if n := pub.Subscribers(TopicReload); n != 1 {
		t.Errorf("Expected 1 subscriber, got %d", n)
	}

	if err := pub.Publish(TopicReload, ReloadCSS, ReloadEvent{Paths: []string{"/styles/main.css"}}); err != nil {
		t.Fatalf("Failed to publish new event: %v", err)
	}

	select {
	case event := <-sub.Events():
		if event.Version != 4 || event.Type != ReloadCSS {
			t.Errorf("Expected version 4 (%s), got %d (%s)", ReloadCSS, event.Version, event.Type)
		}
		var data ReloadEvent
		if err := json.Unmarshal(event.Data, &data); err != nil {
			t.Fatalf("Bad payload: %v", err)
		}
		if len(data.Paths) != 1 || data.Paths[0] != "/styles/main.css" {
			t.Errorf("Unexpected paths %v", data.Paths)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Timeout waiting for new event")
	}
}

func TestSubscriptionClosesWithContext(t *testing.T) {
	pub := NewSSEPublisher()
	defer pub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	if _, err := pub.Subscribe(ctx, TopicReload); err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}
	cancel()

	deadline := time.Now().Add(time.Second)
	for pub.Subscribers(TopicReload) != 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscription not removed after cancel")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWriteSSE(t *testing.T) {
	var buf bytes.Buffer
	event := Event{Topic: TopicReload, Type: ReloadPage, Data: json.RawMessage(`{"paths":["/"]}`), Version: 7}

	if err := WriteSSE(&buf, event); err != nil {
		t.Fatalf("WriteSSE failed: %v", err)
	}

	out := buf.String()
	if !strings.HasPrefix(out, "id: 7\ndata: {") || !strings.HasSuffix(out, "}\n\n") {
		t.Errorf("Unexpected SSE frame %q", out)
	}
	if !strings.Contains(out, `"type":"reload"`) {
		t.Errorf("Frame is missing the event type: %q", out)
	}
}

func TestPublishAfterClose(t *testing.T) {
	pub := NewSSEPublisher()
	pub.Close()

	if err := pub.Publish(TopicReload, ReloadPage, nil); err == nil {
		t.Error("Expected error publishing on a closed publisher")
	}
	if _, err := pub.Subscribe(context.Background(), TopicReload); err == nil {
		t.Error("Expected error subscribing to a closed publisher")
	}
}
