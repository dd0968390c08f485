package broker

import (
	"context"
	"sync"

	"github.com/kieranlane/gapengine/internal/bars"
)

// Simulated is an in-memory Broker used by tests and paper-trading runs. It
// never calls out over the network; orders transition synchronously and
// fills are driven by the caller via FillStop, so tests can script
// exact sequences against the position state machine.
type Simulated struct {
	mu       sync.Mutex
	orders   map[string]*simOrder
	children map[string]ChildOrders
	buyingPower float64
}

type simOrder struct {
	id       string
	symbol   string
	side     bars.Side
	qty      float64
	kind     string // "bracket_entry", "stop", "target", "market", "trailing"
	terminal bool
	stopPrice float64
}

// NewSimulated constructs a Simulated adapter with the given starting
// buying power.
func NewSimulated(buyingPower float64) *Simulated {
	return &Simulated{
		orders:      make(map[string]*simOrder),
		children:    make(map[string]ChildOrders),
		buyingPower: buyingPower,
	}
}

func (s *Simulated) SubmitBracket(ctx context.Context, symbol string, side bars.Side, qty float64, entry EntryType, stopPrice, targetPrice float64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	parentID := newClientOrderID()
	stopID := newClientOrderID()
	targetID := newClientOrderID()

	s.orders[parentID] = &simOrder{id: parentID, symbol: symbol, side: side, qty: qty, kind: "bracket_entry"}
	s.orders[stopID] = &simOrder{id: stopID, symbol: symbol, side: side, qty: qty, kind: "stop", stopPrice: stopPrice}
	s.orders[targetID] = &simOrder{id: targetID, symbol: symbol, side: side, qty: qty, kind: "target", stopPrice: targetPrice}
	s.children[parentID] = ChildOrders{StopLegID: stopID, TargetLegID: targetID}

	return parentID, nil
}

func (s *Simulated) SubmitTrailingStop(ctx context.Context, symbol string, exitSide bars.Side, qty float64, trail TrailSpec) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := newClientOrderID()
	s.orders[id] = &simOrder{id: id, symbol: symbol, side: exitSide, qty: qty, kind: "trailing"}
	return id, nil
}

func (s *Simulated) SubmitMarket(ctx context.Context, symbol string, side bars.Side, qty float64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := newClientOrderID()
	o := &simOrder{id: id, symbol: symbol, side: side, qty: qty, kind: "market", terminal: true}
	s.orders[id] = o
	return id, nil
}

func (s *Simulated) Cancel(ctx context.Context, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok || o.terminal {
		return &Error{Kind: KindAlreadyTerminal, Message: "order already terminal or unknown"}
	}
	o.terminal = true
	return nil
}

func (s *Simulated) ReplaceStop(ctx context.Context, orderID string, newStop float64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return "", &Error{Kind: KindUnknownSymbol, Message: "unknown stop order"}
	}
	if o.terminal {
		return "", &Error{Kind: KindAlreadyTerminal, Message: "stop already filled"}
	}
	o.stopPrice = newStop
	return orderID, nil
}

func (s *Simulated) ChildrenOf(ctx context.Context, parentID string) (ChildOrders, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.children[parentID]
	if !ok {
		return ChildOrders{}, &Error{Kind: KindUnknownSymbol, Message: "unknown parent order"}
	}
	return c, nil
}

func (s *Simulated) Positions(ctx context.Context) ([]Position, error) { return nil, nil }

func (s *Simulated) Account(ctx context.Context) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Account{BuyingPower: s.buyingPower, Equity: s.buyingPower}, nil
}

// FillStop marks the given stop order as terminally filled, as the Position
// Manager's stop-out detection expects to observe.
func (s *Simulated) FillStop(orderID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.orders[orderID]; ok {
		o.terminal = true
	}
}

// StopPrice returns the currently resting stop price for assertions in
// tests of the Position Manager's replace protocol.
func (s *Simulated) StopPrice(orderID string) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return 0, false
	}
	return o.stopPrice, true
}

// IsTerminal reports whether orderID has reached a terminal state.
func (s *Simulated) IsTerminal(orderID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	return ok && o.terminal
}
