package settlement

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/accordsai/transferlane/pkg/domain"
	"github.com/ethereum/go-ethereum/common"
)

type EventType string

const (
	EventPerformTransfer EventType = "PerformTransfer"
	EventCancelTransfer  EventType = "CancelTransfer"
)

type Event struct {
	Type       EventType      `json:"type"`
	From       common.Address `json:"from"`
	To         common.Address `json:"to"`
	Claim      domain.Claim   `json:"claim"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Emitter receives settlement observations after they commit. Emit must not
// fail the settlement, so it has no error result.
type Emitter interface {
	Emit(ctx context.Context, ev Event)
}

type EmitterFunc func(ctx context.Context, ev Event)

func (f EmitterFunc) Emit(ctx context.Context, ev Event) { f(ctx, ev) }

// EventLog keeps emitted events in memory, newest last.
type EventLog struct {
	mu     sync.Mutex
	events []Event
	limit  int
}

// NewEventLog keeps at most limit events; limit <= 0 keeps all.
func NewEventLog(limit int) *EventLog { return &EventLog{limit: limit} }

func (l *EventLog) Emit(_ context.Context, ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
	if l.limit > 0 && len(l.events) > l.limit {
		l.events = append([]Event(nil), l.events[len(l.events)-l.limit:]...)
	}
}

func (l *EventLog) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

// LogEmitter writes every event to logger.
func LogEmitter(logger *slog.Logger) Emitter {
	return EmitterFunc(func(ctx context.Context, ev Event) {
		logger.InfoContext(ctx, "settlement event",
			"event", string(ev.Type),
			"claim", ev.Claim.Hex(),
			"from", ev.From.Hex(),
			"to", ev.To.Hex(),
		)
	})
}

// Fanout emits to every emitter in order.
type Fanout []Emitter

func (f Fanout) Emit(ctx context.Context, ev Event) {
	for _, e := range f {
		if e != nil {
			e.Emit(ctx, ev)
		}
	}
}
