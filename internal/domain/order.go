package domain

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"
)

// OrderStatus tracks the limit order lifecycle.
type OrderStatus string

const (
	OrderStatusActive    OrderStatus = "active"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusExpired   OrderStatus = "expired"
)

// Terminal reports whether no further transition is possible.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusFilled || s == OrderStatusCancelled || s == OrderStatusExpired
}

// ParseOrderStatus accepts the lower-case wire names.
func ParseOrderStatus(s string) (OrderStatus, error) {
	switch OrderStatus(s) {
	case OrderStatusActive, OrderStatusFilled, OrderStatusCancelled, OrderStatusExpired:
		return OrderStatus(s), nil
	}
	return "", Invalid("status", fmt.Sprintf("unknown order status %q", s))
}

// LimitOrder offers MakingAmount of MakerAsset for TakingAmount of
// TakerAsset. Amounts are integer base units of their own asset.
type LimitOrder struct {
	ID              string
	ChainID         int64
	Maker           string
	MakerAsset      string
	TakerAsset      string
	MakingAmount    *big.Int
	TakingAmount    *big.Int
	Salt            string
	Status          OrderStatus
	CreatedAt       time.Time
	ExpiresAt       time.Time
	FilledAmount    *big.Int
	RemainingAmount *big.Int
	Signature       string
	UpdatedAt       time.Time
}

// Clone returns a deep copy so callers can never alias a stored record.
func (o LimitOrder) Clone() LimitOrder {
	o.MakingAmount = cloneInt(o.MakingAmount)
	o.TakingAmount = cloneInt(o.TakingAmount)
	o.FilledAmount = cloneInt(o.FilledAmount)
	o.RemainingAmount = cloneInt(o.RemainingAmount)
	return o
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

// IsExpired reports whether the order is still marked active in storage but
// its expiry has passed.
func (o LimitOrder) IsExpired(now time.Time) bool {
	return o.Status == OrderStatusActive && !o.ExpiresAt.IsZero() && !now.Before(o.ExpiresAt)
}

// Presented returns the order as a reader should see it at now: an active
// order past its expiry is reported as expired even if storage still says
// active.
func (o LimitOrder) Presented(now time.Time) LimitOrder {
	out := o.Clone()
	if out.IsExpired(now) {
		out.Status = OrderStatusExpired
	}
	return out
}

// ApplyFill sets the cumulative filled amount, clamped to MakingAmount, and
// flips the order to filled once nothing remains. It reports whether the
// order changed. Fills never move backwards.
func (o *LimitOrder) ApplyFill(cumulative *big.Int) bool {
	if cumulative == nil || o.MakingAmount == nil || o.Status != OrderStatusActive {
		return false
	}
	filled := new(big.Int).Set(cumulative)
	if filled.Cmp(o.MakingAmount) > 0 {
		filled.Set(o.MakingAmount)
	}
	if o.FilledAmount != nil && filled.Cmp(o.FilledAmount) <= 0 {
		return false
	}
	o.FilledAmount = filled
	o.RemainingAmount = new(big.Int).Sub(o.MakingAmount, filled)
	if o.RemainingAmount.Sign() == 0 {
		o.Status = OrderStatusFilled
	}
	return true
}

type limitOrderJSON struct {
	ID              string      `json:"id"`
	ChainID         int64       `json:"chainId"`
	Maker           string      `json:"maker"`
	MakerAsset      string      `json:"makerAsset"`
	TakerAsset      string      `json:"takerAsset"`
	MakingAmount    string      `json:"makingAmount"`
	TakingAmount    string      `json:"takingAmount"`
	Salt            string      `json:"salt"`
	Status          OrderStatus `json:"status"`
	CreatedAt       time.Time   `json:"createdAt"`
	ExpiresAt       time.Time   `json:"expiresAt"`
	FilledAmount    string      `json:"filledAmount"`
	RemainingAmount string      `json:"remainingAmount"`
	Signature       string      `json:"signature,omitempty"`
	UpdatedAt       time.Time   `json:"updatedAt"`
}

// MarshalJSON renders amounts as decimal strings.
func (o LimitOrder) MarshalJSON() ([]byte, error) {
	return json.Marshal(limitOrderJSON{
		ID:              o.ID,
		ChainID:         o.ChainID,
		Maker:           o.Maker,
		MakerAsset:      o.MakerAsset,
		TakerAsset:      o.TakerAsset,
		MakingAmount:    IntString(o.MakingAmount),
		TakingAmount:    IntString(o.TakingAmount),
		Salt:            o.Salt,
		Status:          o.Status,
		CreatedAt:       o.CreatedAt,
		ExpiresAt:       o.ExpiresAt,
		FilledAmount:    IntString(o.FilledAmount),
		RemainingAmount: IntString(o.RemainingAmount),
		Signature:       o.Signature,
		UpdatedAt:       o.UpdatedAt,
	})
}

// UnmarshalJSON parses the wire form produced by MarshalJSON.
func (o *LimitOrder) UnmarshalJSON(data []byte) error {
	var raw limitOrderJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := LimitOrder{
		ID:         raw.ID,
		ChainID:    raw.ChainID,
		Maker:      raw.Maker,
		MakerAsset: raw.MakerAsset,
		TakerAsset: raw.TakerAsset,
		Salt:       raw.Salt,
		Status:     raw.Status,
		CreatedAt:  raw.CreatedAt,
		ExpiresAt:  raw.ExpiresAt,
		Signature:  raw.Signature,
		UpdatedAt:  raw.UpdatedAt,
	}
	var err error
	fields := []struct {
		name string
		src  string
		dst  **big.Int
	}{
		{"makingAmount", raw.MakingAmount, &out.MakingAmount},
		{"takingAmount", raw.TakingAmount, &out.TakingAmount},
		{"filledAmount", raw.FilledAmount, &out.FilledAmount},
		{"remainingAmount", raw.RemainingAmount, &out.RemainingAmount},
	}
	for _, f := range fields {
		if f.src == "" {
			continue
		}
		if *f.dst, err = ParseAmount(f.name, f.src); err != nil {
			return err
		}
	}
	*o = out
	return nil
}

// ParseAmount parses a non-negative base-unit integer.
func ParseAmount(field, s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, Invalid(field, fmt.Sprintf("not an integer amount: %q", s))
	}
	if v.Sign() < 0 {
		return nil, Invalid(field, "must not be negative")
	}
	return v, nil
}

// IntString formats v in base 10, mapping nil to "0".
func IntString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// OrderEventType is the kind of lifecycle event recorded for an order.
type OrderEventType string

const (
	OrderEventCreated   OrderEventType = "created"
	OrderEventFilled    OrderEventType = "filled"
	OrderEventCancelled OrderEventType = "cancelled"
	OrderEventExpired   OrderEventType = "expired"
)

// OrderEvent is an append-only log entry used to reconcile local order state.
// FilledAmount is the cumulative filled amount carried by filled events.
type OrderEvent struct {
	ID           string         `json:"id"`
	Type         OrderEventType `json:"type"`
	OrderID      string         `json:"orderId"`
	BlockNumber  uint64         `json:"blockNumber"`
	Timestamp    time.Time      `json:"timestamp"`
	FilledAmount string         `json:"filledAmount,omitempty"`
}

// OrderUpdate is the signal bus payload for an order transition.
type OrderUpdate struct {
	Event OrderEventType `json:"event"`
	Demo  bool           `json:"demo"`
	Order LimitOrder     `json:"order"`
}

// OrderFilter narrows order listings. Zero values mean "any".
type OrderFilter struct {
	ChainID int64
	Maker   string
	Pair    string // PairKey of maker/taker assets
	Status  OrderStatus
	Limit   int
	Offset  int
}
