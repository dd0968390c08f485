// Package broker is the typed, normalized Broker Adapter (spec.md §4.3): a
// thin facade over a brokerage REST API. The wire integration itself is an
// external collaborator out of scope (spec.md §1); this package defines the
// facade contract, a rate-limited and circuit-broken call wrapper around any
// concrete implementation, and an in-memory simulated adapter for tests.
package broker

import (
	"context"
	"time"

	"github.com/google/uuid"
	cb "github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/kieranlane/gapengine/internal/bars"
)

// EntryType distinguishes a market entry from a limit entry at a price.
type EntryType struct {
	Market bool
	Limit  float64
}

func Market() EntryType        { return EntryType{Market: true} }
func Limit(price float64) EntryType { return EntryType{Limit: price} }

// TrailSpec is either a percentage or an absolute-dollar trailing distance.
type TrailSpec struct {
	Percent  float64
	Absolute float64
	IsPercent bool
}

func TrailPercent(p float64) TrailSpec  { return TrailSpec{Percent: p, IsPercent: true} }
func TrailAbsolute(d float64) TrailSpec { return TrailSpec{Absolute: d} }

// ChildOrders identifies the stop and target legs of a bracket, either of
// which may be absent (already filled, cancelled, or never placed).
type ChildOrders struct {
	StopLegID   string
	TargetLegID string
}

// Position mirrors the brokerage's view of a held position, used at startup
// to reconcile externally-opened (unmanaged) positions per spec.md §1.
type Position struct {
	Symbol string
	Side   bars.Side
	Qty    float64
	AvgPrice float64
}

// Account carries the buying-power figures the Risk Gate consults.
type Account struct {
	BuyingPower float64
	Equity      float64
}

// Broker is the normalized facade every core component depends on.
// Implementations return ErrKind-tagged *Error, never bare errors, so
// callers can branch on Kind without string matching.
type Broker interface {
	SubmitBracket(ctx context.Context, symbol string, side bars.Side, qty float64, entry EntryType, stopPrice, targetPrice float64) (parentID string, err error)
	SubmitTrailingStop(ctx context.Context, symbol string, exitSide bars.Side, qty float64, trail TrailSpec) (orderID string, err error)
	SubmitMarket(ctx context.Context, symbol string, side bars.Side, qty float64) (orderID string, err error)
	Cancel(ctx context.Context, orderID string) error
	ReplaceStop(ctx context.Context, orderID string, newStop float64) (newOrderID string, err error)
	ChildrenOf(ctx context.Context, parentID string) (ChildOrders, error)
	Positions(ctx context.Context) ([]Position, error)
	Account(ctx context.Context) (Account, error)
}

// ErrKind is the closed error taxonomy spec.md §4.3/§7 requires callers to
// branch on.
type ErrKind int

const (
	KindUnknown ErrKind = iota
	KindInsufficientBuyingPower
	KindMarketClosed
	KindUnknownSymbol
	KindDuplicateClientOrderID
	KindRateLimited
	KindTransient
	KindRejected
	KindAlreadyTerminal
)

func (k ErrKind) String() string {
	switch k {
	case KindInsufficientBuyingPower:
		return "insufficient_buying_power"
	case KindMarketClosed:
		return "market_closed"
	case KindUnknownSymbol:
		return "unknown_symbol"
	case KindDuplicateClientOrderID:
		return "duplicate_client_order_id"
	case KindRateLimited:
		return "rate_limited"
	case KindTransient:
		return "transient"
	case KindRejected:
		return "rejected"
	case KindAlreadyTerminal:
		return "already_terminal"
	default:
		return "unknown"
	}
}

// Error is the typed error every Broker method returns instead of a bare
// error, so callers switch on Kind rather than matching strings.
type Error struct {
	Kind            ErrKind
	Message         string
	SuggestedBackoff time.Duration
}

func (e *Error) Error() string { return e.Kind.String() + ": " + e.Message }

// IsAlreadyTerminal reports whether err is a broker Error of kind
// AlreadyTerminal — the Position Manager treats this as semantic success.
func IsAlreadyTerminal(err error) bool {
	be, ok := err.(*Error)
	return ok && be.Kind == KindAlreadyTerminal
}

// IsTransient reports whether err should be retried by the caller's bounded
// retry budget (spec.md §4.6 stop-replace protocol, step 4).
func IsTransient(err error) bool {
	be, ok := err.(*Error)
	return ok && be.Kind == KindTransient
}

// Guarded wraps a concrete Broker with the rate limiter and circuit breaker
// spec.md §5 requires in front of every broker call: a global token bucket
// (default 200 req/min) and a breaker that trips on repeated failures so a
// flaky brokerage does not wedge every in-flight worker.
type Guarded struct {
	inner   Broker
	limiter *rate.Limiter
	breaker *cb.CircuitBreaker
}

// NewGuarded wraps inner with a token bucket of ratePerMin requests/minute
// and a circuit breaker named for logging/metrics correlation.
func NewGuarded(inner Broker, ratePerMin int, breakerName string) *Guarded {
	if ratePerMin <= 0 {
		ratePerMin = 200
	}
	limiter := rate.NewLimiter(rate.Limit(float64(ratePerMin)/60.0), ratePerMin)

	st := cb.Settings{Name: breakerName}
	st.Interval = 60 * time.Second
	st.Timeout = 60 * time.Second
	st.ReadyToTrip = func(counts cb.Counts) bool {
		if counts.ConsecutiveFailures >= 3 {
			return true
		}
		if counts.Requests < 20 {
			return false
		}
		return float64(counts.TotalFailures)/float64(counts.Requests) > 0.05
	}

	return &Guarded{inner: inner, limiter: limiter, breaker: cb.NewCircuitBreaker(st)}
}

func (g *Guarded) call(ctx context.Context, fn func() (any, error)) (any, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, &Error{Kind: KindTransient, Message: "rate limit wait cancelled: " + err.Error()}
	}
	result, err := g.breaker.Execute(fn)
	if err != nil {
		if err == cb.ErrOpenState || err == cb.ErrTooManyRequests {
			return nil, &Error{Kind: KindTransient, Message: "circuit breaker open", SuggestedBackoff: 30 * time.Second}
		}
		return nil, err
	}
	return result, nil
}

func (g *Guarded) SubmitBracket(ctx context.Context, symbol string, side bars.Side, qty float64, entry EntryType, stopPrice, targetPrice float64) (string, error) {
	result, err := g.call(ctx, func() (any, error) {
		return g.inner.SubmitBracket(ctx, symbol, side, qty, entry, stopPrice, targetPrice)
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

func (g *Guarded) SubmitTrailingStop(ctx context.Context, symbol string, exitSide bars.Side, qty float64, trail TrailSpec) (string, error) {
	result, err := g.call(ctx, func() (any, error) {
		return g.inner.SubmitTrailingStop(ctx, symbol, exitSide, qty, trail)
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

func (g *Guarded) SubmitMarket(ctx context.Context, symbol string, side bars.Side, qty float64) (string, error) {
	result, err := g.call(ctx, func() (any, error) {
		return g.inner.SubmitMarket(ctx, symbol, side, qty)
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

func (g *Guarded) Cancel(ctx context.Context, orderID string) error {
	_, err := g.call(ctx, func() (any, error) {
		return nil, g.inner.Cancel(ctx, orderID)
	})
	if IsAlreadyTerminal(err) {
		return err
	}
	return err
}

func (g *Guarded) ReplaceStop(ctx context.Context, orderID string, newStop float64) (string, error) {
	result, err := g.call(ctx, func() (any, error) {
		return g.inner.ReplaceStop(ctx, orderID, newStop)
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

func (g *Guarded) ChildrenOf(ctx context.Context, parentID string) (ChildOrders, error) {
	result, err := g.call(ctx, func() (any, error) {
		return g.inner.ChildrenOf(ctx, parentID)
	})
	if err != nil {
		return ChildOrders{}, err
	}
	return result.(ChildOrders), nil
}

func (g *Guarded) Positions(ctx context.Context) ([]Position, error) {
	result, err := g.call(ctx, func() (any, error) {
		return g.inner.Positions(ctx)
	})
	if err != nil {
		return nil, err
	}
	return result.([]Position), nil
}

func (g *Guarded) Account(ctx context.Context) (Account, error) {
	result, err := g.call(ctx, func() (any, error) {
		return g.inner.Account(ctx)
	})
	if err != nil {
		return Account{}, err
	}
	return result.(Account), nil
}

// newClientOrderID generates an idempotent client order identifier so a
// retried submit cannot duplicate a fill (spec.md §4.3 DuplicateClientOrderId).
func newClientOrderID() string { return uuid.NewString() }
