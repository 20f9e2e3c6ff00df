package exchange

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/uhyunpark/stoxbook/pkg/app/core/breaker"
	"github.com/uhyunpark/stoxbook/pkg/events"
	"github.com/uhyunpark/stoxbook/pkg/metrics"
	"github.com/uhyunpark/stoxbook/pkg/util"
)

// ExistingOrderPolicy decides what happens when a trader places an order on a
// side where they already have one resting.
type ExistingOrderPolicy string

const (
	// PolicyReject fails the new order with ErrOrderExists.
	PolicyReject ExistingOrderPolicy = "reject"
	// PolicyReplace cancels the resting order (refund to escrow) and processes the new one.
	PolicyReplace ExistingOrderPolicy = "replace"
	// PolicyMerge crosses the new order first, then folds its remainder into the
	// resting order at the new price with a fresh sequence number.
	PolicyMerge ExistingOrderPolicy = "merge"
)

func ParseExistingOrderPolicy(s string) (ExistingOrderPolicy, error) {
	switch p := ExistingOrderPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case PolicyReject, PolicyReplace, PolicyMerge:
		return p, nil
	default:
		return "", fmt.Errorf("unknown existing order policy %q", s)
	}
}

type Config struct {
	// MaxDepth caps resting orders per side. 0 means unlimited.
	MaxDepth       int
	ExistingOrders ExistingOrderPolicy
	Pause          breaker.Policy
}

func DefaultConfig() Config {
	return Config{
		ExistingOrders: PolicyReject,
		Pause:          breaker.DefaultPolicy(),
	}
}

type Option func(*Exchange)

func WithConfig(cfg Config) Option {
	return func(e *Exchange) { e.cfg = cfg }
}

func WithStore(s Store) Option {
	return func(e *Exchange) { e.store = s }
}

func WithPublisher(p events.Publisher) Option {
	return func(e *Exchange) { e.publisher = p }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Exchange) { e.metrics = m }
}

func WithLogger(l *zap.Logger) Option {
	return func(e *Exchange) { e.logger = l }
}

func WithClock(c util.Clock) Option {
	return func(e *Exchange) { e.clock = c }
}
