// Package stream fan-outs ledger events to live subscribers (SSE clients).
package stream

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Event kinds published on the stream.
const (
	KindSaleCreated    = "sale.created"
	KindPaymentApplied = "payment.applied"
)

// Event describes one ledger mutation for live dashboards. Balance is the
// sale's balance after the mutation.
type Event struct {
	Kind      string          `json:"kind"`
	SaleID    string          `json:"sale_id"`
	Mode      string          `json:"mode,omitempty"`
	Amount    decimal.Decimal `json:"amount"`
	Balance   decimal.Decimal `json:"balance"`
	Timestamp time.Time       `json:"timestamp"`
}

// Stream fan-outs events to all active subscribers.
type Stream struct {
	mu   sync.RWMutex
	subs map[int]chan Event
	next int
}

func New() *Stream {
	return &Stream{subs: make(map[int]chan Event)}
}

// Subscribe registers a subscriber and returns a channel which will receive
// events. The channel is closed when the provided context ends.
func (s *Stream) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, 16)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the event to all subscribers.
func (s *Stream) Publish(evt Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}
