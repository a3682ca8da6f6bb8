package watcher

import (
	"context"
	"sort"
	"time"

	"github.com/ritzau/assetpipe/pkg/logging"
	"github.com/ritzau/assetpipe/pkg/model"
)

// Batch is a debounced set of changes, at most one per path
type Batch struct {
	Events    []model.ChangeEvent // sorted by path
	Timestamp time.Time
}

// Paths returns the changed paths
func (b Batch) Paths() []string {
	out := make([]string, len(b.Events))
	for i, ev := range b.Events {
		out[i] = ev.Path
	}
	return out
}

// Deleted returns the deletion events of the batch
func (b Batch) Deleted() []model.ChangeEvent {
	var out []model.ChangeEvent
	for _, ev := range b.Events {
		if ev.Kind == model.ChangeDeleted {
			out = append(out, ev)
		}
	}
	return out
}

// Debouncer batches rapid file system events so a burst of saves runs a task once.
// Events for the same path collapse into the latest one. Intake never waits
// for the consumer: while a batch is unclaimed, new events keep accumulating.
type Debouncer struct {
	input       chan model.ChangeEvent
	output      chan Batch
	done        chan struct{}
	quietPeriod time.Duration
	maxWait     time.Duration
}

// NewDebouncer creates a new event debouncer. A batch is emitted once no
// event arrived for quietPeriod, or maxWait after its first event.
func NewDebouncer(quietPeriod, maxWait time.Duration) *Debouncer {
	if maxWait < quietPeriod {
		maxWait = quietPeriod
	}
	return &Debouncer{
		input:       make(chan model.ChangeEvent, 256),
		output:      make(chan Batch),
		done:        make(chan struct{}),
		quietPeriod: quietPeriod,
		maxWait:     maxWait,
	}
}

// Start begins processing events with debouncing
func (d *Debouncer) Start(ctx context.Context) {
	go d.run(ctx)
}

// Push hands an event to the debouncer. It returns false once the debouncer
// has stopped.
func (d *Debouncer) Push(ev model.ChangeEvent) bool {
	select {
	case <-d.done:
		return false
	default:
	}
	select {
	case d.input <- ev:
		return true
	case <-d.done:
		return false
	}
}

// Output returns the channel of debounced batches. It is closed when the
// context passed to Start is cancelled.
func (d *Debouncer) Output() <-chan Batch {
	return d.output
}

// run accumulates events and applies debouncing logic
func (d *Debouncer) run(ctx context.Context) {
	defer close(d.output)
	defer close(d.done)

	var (
		pending = make(map[string]model.ChangeEvent)
		ready   = make(map[string]model.ChangeEvent)
		batch   Batch

		quietTimer = time.NewTimer(d.quietPeriod)
		maxTimer   = time.NewTimer(d.maxWait)
		quietC     <-chan time.Time
		maxC       <-chan time.Time
	)
	quietTimer.Stop()
	maxTimer.Stop()
	defer quietTimer.Stop()
	defer maxTimer.Stop()

	flush := func() {
		quietTimer.Stop()
		maxTimer.Stop()
		quietC, maxC = nil, nil

		if len(pending) == 0 {
			return
		}
		logging.Debug("flushing accumulated events", "count", len(pending))

		for p, ev := range pending {
			ready[p] = ev
		}
		pending = make(map[string]model.ChangeEvent)
		batch = makeBatch(ready)
	}

	for {
		// Only offer a batch when one is waiting
		var out chan<- Batch
		if len(ready) > 0 {
			out = d.output
		}

		select {
		case <-ctx.Done():
			return

		case ev := <-d.input:
			pending[ev.Path] = ev
			quietTimer.Reset(d.quietPeriod)
			quietC = quietTimer.C
			if maxC == nil {
				maxTimer.Reset(d.maxWait)
				maxC = maxTimer.C
			}

		case <-quietC:
			flush()

		case <-maxC:
			flush()

		case out <- batch:
			ready = make(map[string]model.ChangeEvent)
			batch = Batch{}
		}
	}
}

func makeBatch(events map[string]model.ChangeEvent) Batch {
	b := Batch{
		Events:    make([]model.ChangeEvent, 0, len(events)),
		Timestamp: time.Now(),
	}
	for _, ev := range events {
		b.Events = append(b.Events, ev)
	}
	sort.Slice(b.Events, func(i, j int) bool {
		return b.Events[i].Path < b.Events[j].Path
	})
	return b
}
