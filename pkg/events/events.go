// Package events carries exchange activity to outside consumers.
package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/uhyunpark/stoxbook/pkg/app/core/orderbook"
	"github.com/uhyunpark/stoxbook/pkg/fixed"
)

type Type string

const (
	TypeFill       Type = "fill"
	TypeOrderRest  Type = "order_rested"
	TypeOrderClose Type = "order_closed"
	TypeWithdrawal Type = "withdrawal"
	TypeBreaker    Type = "breaker"
)

// Event is the JSON document published for every state change. Amounts are
// base-10 integer strings at 18-decimal scale.
type Event struct {
	Type      Type      `json:"type"`
	Seq       uint64    `json:"seq"`
	Trader    string    `json:"trader,omitempty"`
	Side      string    `json:"side,omitempty"`
	Asset     string    `json:"asset,omitempty"`
	Price     string    `json:"price,omitempty"`
	Quantity  string    `json:"quantity,omitempty"`
	Amount    string    `json:"amount,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	State     string    `json:"state,omitempty"`
	Fill      *Fill     `json:"fill,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type Fill struct {
	ID        string `json:"id"`
	Taker     string `json:"taker"`
	Maker     string `json:"maker"`
	TakerSide string `json:"taker_side"`
	Price     string `json:"price"`
	Quantity  string `json:"quantity"`
	Cash      string `json:"cash"`
}

func FromFill(f orderbook.Fill) Event {
	return Event{
		Type: TypeFill,
		Seq:  f.Seq,
		Fill: &Fill{
			ID:        f.ID,
			Taker:     f.Taker.Hex(),
			Maker:     f.Maker.Hex(),
			TakerSide: f.TakerSide.String(),
			Price:     fixed.String(f.Price),
			Quantity:  fixed.String(f.Quantity),
			Cash:      fixed.String(f.Cash),
		},
		Timestamp: f.Timestamp,
	}
}

// Key is the partition key: the trader for account events, the fill ID for fills.
func (e Event) Key() string {
	if e.Fill != nil {
		return e.Fill.ID
	}
	return e.Trader
}

type Publisher interface {
	Publish(ctx context.Context, evs ...Event) error
	Close() error
}

type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, ...Event) error { return nil }
func (NopPublisher) Close() error                            { return nil }

// Multi fans events out to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, evs ...Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, evs...); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, p := range m {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps published events in memory. It is safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, evs ...Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evs...)
	return nil
}

func (r *Recorder) Close() error { return nil }

// Events returns a copy of everything published so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *Recorder) OfType(t Type) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
