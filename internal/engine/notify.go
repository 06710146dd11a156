package engine

import (
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EventKind classifies a lifecycle notification.
type EventKind uint8

const (
	KindOpen EventKind = iota
	KindFilled
	KindPartialFilled
	KindCancelled
	KindModified
	KindRejected
)

func (k EventKind) String() string {
	switch k {
	case KindOpen:
		return "OPEN"
	case KindFilled:
		return "FILLED"
	case KindPartialFilled:
		return "PARTIALLY FILLED"
	case KindCancelled:
		return "CANCELLED"
	case KindModified:
		return "MODIFIED"
	case KindRejected:
		return "REJECTED"
	default:
		return "UNKNOWN"
	}
}

// BookAffecting reports whether the event changed resting book state.
func (k EventKind) BookAffecting() bool { return k != KindRejected }

// Notification is one lifecycle event. For fills, Qty is the fill
// quantity and the two participants of a match carry the same TradeID;
// otherwise Qty is the order's remaining quantity and TradeID is zero.
// Status is the order's status at emission time.
type Notification struct {
	Symbol  string
	Kind    EventKind
	Status  OrderStatus
	Type    OrderType
	OrderID OrderID
	Side    Side
	Qty     decimal.Decimal
	Price   decimal.Decimal
	TradeID uuid.UUID
	TimeNs  int64
	Reason  string // set for KindRejected
}

// Sink receives notifications. Publish is called from the goroutine
// executing the engine operation, so implementations must be fast or
// hand off.
type Sink interface {
	Publish(Notification)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Notification)

func (f SinkFunc) Publish(n Notification) { f(n) }

// ConsoleSink renders notifications as human-readable lines.
type ConsoleSink struct {
	W io.Writer
}

func (c ConsoleSink) Publish(n Notification) {
	tag := "[" + n.Kind.String() + "]"
	if n.Kind == KindRejected {
		tag = "[REJECTED: " + n.Reason + "]"
	}
	fmt.Fprintf(c.W, "[%s] | %s | TYPE: %s | ID: %d | SIDE: %s | QTY: %s | PRICE: %s | TIME: %d\n",
		n.Symbol, tag, n.Type, n.OrderID, n.Side, n.Qty, n.Price, time.Unix(0, n.TimeNs).Unix())
}

func (e *Engine) publish(n Notification) {
	if e.sink != nil {
		e.sink.Publish(n)
	}
}

func (e *Engine) notifyOpen(id OrderID) error {
	ord, ok := e.lookup(id)
	if !ok {
		return fmt.Errorf("open notification for order %d: %w", id, ErrCorruptBook)
	}
	e.publish(Notification{
		Symbol:  e.symbol,
		Kind:    KindOpen,
		Status:  ord.Status,
		Type:    ord.Type,
		OrderID: ord.ID,
		Side:    ord.Side,
		Qty:     ord.Qty,
		Price:   e.PriceDecimal(ord.Price),
		TimeNs:  ord.TimeNs,
	})
	return nil
}

func (e *Engine) notifyFill(id OrderID, filled decimal.Decimal, tradeID uuid.UUID) error {
	ord, ok := e.lookup(id)
	if !ok {
		return fmt.Errorf("fill notification for order %d: %w", id, ErrCorruptBook)
	}
	kind := KindPartialFilled
	if ord.Qty.IsZero() {
		kind = KindFilled
	}
	e.publish(Notification{
		Symbol:  e.symbol,
		Kind:    kind,
		Status:  ord.Status,
		Type:    ord.Type,
		OrderID: ord.ID,
		Side:    ord.Side,
		Qty:     filled,
		Price:   e.PriceDecimal(ord.Price),
		TradeID: tradeID,
		TimeNs:  e.now(),
	})
	return nil
}

func (e *Engine) notifyCancel(id OrderID) error {
	ord, ok := e.lookup(id)
	if !ok {
		return fmt.Errorf("cancel notification for order %d: %w", id, ErrCorruptBook)
	}
	e.publish(Notification{
		Symbol:  e.symbol,
		Kind:    KindCancelled,
		Status:  ord.Status,
		Type:    ord.Type,
		OrderID: ord.ID,
		Side:    ord.Side,
		Qty:     ord.Qty,
		Price:   e.PriceDecimal(ord.Price),
		TimeNs:  e.now(),
	})
	return nil
}

func (e *Engine) notifyModify(id OrderID) error {
	ord, ok := e.lookup(id)
	if !ok {
		return fmt.Errorf("modify notification for order %d: %w", id, ErrCorruptBook)
	}
	e.publish(Notification{
		Symbol:  e.symbol,
		Kind:    KindModified,
		Status:  ord.Status,
		Type:    ord.Type,
		OrderID: ord.ID,
		Side:    ord.Side,
		Qty:     ord.Qty,
		Price:   e.PriceDecimal(ord.Price),
		TimeNs:  e.now(),
	})
	return nil
}

func (e *Engine) notifyReject(id OrderID, reason string) error {
	ord, ok := e.lookup(id)
	if !ok {
		return fmt.Errorf("reject notification for order %d: %w", id, ErrCorruptBook)
	}
	e.publish(Notification{
		Symbol:  e.symbol,
		Kind:    KindRejected,
		Status:  ord.Status,
		Type:    ord.Type,
		OrderID: ord.ID,
		Side:    ord.Side,
		Qty:     ord.Qty,
		Price:   e.PriceDecimal(ord.Price),
		TimeNs:  e.now(),
		Reason:  reason,
	})
	return nil
}
