package alerts

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Bound identifies which threshold of an alert was crossed
type Bound string

const (
	BoundUpper Bound = "upper"
	BoundLower Bound = "lower"
)

// Alert is a user-defined threshold rule watching a single stock
type Alert struct {
	ID          string          `json:"id"`
	StockName   string          `json:"stock_name"`
	DisplayName string          `json:"display_name"`
	LowerBound  decimal.Decimal `json:"lower_bound"`
	UpperBound  decimal.Decimal `json:"upper_bound"`
	Enabled     bool            `json:"enabled"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Validate checks the alert can be persisted and evaluated.
// Bounds are never corrected: lower must be strictly below upper.
func (a Alert) Validate() error {
	if strings.TrimSpace(a.ID) == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidAlert)
	}
	if strings.TrimSpace(a.StockName) == "" {
		return fmt.Errorf("%w: missing stock name", ErrInvalidAlert)
	}
	if !a.LowerBound.LessThan(a.UpperBound) {
		return fmt.Errorf("%w: lower %s must be below upper %s",
			ErrInvalidBounds, a.LowerBound.String(), a.UpperBound.String())
	}
	return nil
}

// NormalizeStock canonicalises a stock symbol: trimmed and upper-case
func NormalizeStock(stock string) string {
	return strings.ToUpper(strings.TrimSpace(stock))
}

// PriceTick is one observed price sample for a stock
type PriceTick struct {
	StockName  string          `json:"stock_name"`
	Price      decimal.Decimal `json:"price"`
	ObservedAt time.Time       `json:"observed_at"`
}

// TickFromFloat builds a tick from a float price. Non-finite prices are rejected.
func TickFromFloat(stock string, price float64, observedAt time.Time) (PriceTick, bool) {
	if math.IsNaN(price) || math.IsInf(price, 0) {
		return PriceTick{}, false
	}
	return PriceTick{
		StockName:  stock,
		Price:      decimal.NewFromFloat(price),
		ObservedAt: observedAt,
	}, true
}

// TriggeredAlert records a single bound crossing. It is never mutated.
type TriggeredAlert struct {
	ID             string          `json:"id"`
	AlertID        string          `json:"alert_id"`
	StockName      string          `json:"stock_name"`
	DisplayName    string          `json:"display_name"`
	BoundCrossed   Bound           `json:"bound_crossed"`
	BoundValue     decimal.Decimal `json:"bound_value"`
	PriceAtTrigger decimal.Decimal `json:"price_at_trigger"`
	TriggeredAt    time.Time       `json:"triggered_at"`
}

// triggeredNamespace scopes name-based ids of triggered alerts
var triggeredNamespace = uuid.MustParse("6f1c2a8e-3d55-4c1f-9a7b-2e4d8c0b5f13")

// triggeredID derives the id of a firing. Ticks with a timestamp map to a stable
// id so that a redelivered tick lands on the row written the first time.
func triggeredID(alertID string, bound Bound, tick PriceTick) string {
	if tick.ObservedAt.IsZero() {
		return uuid.NewString()
	}
	name := fmt.Sprintf("%s|%s|%d|%s", alertID, bound, tick.ObservedAt.UnixNano(), tick.Price.String())
	return uuid.NewSHA1(triggeredNamespace, []byte(name)).String()
}

// ChangeOp is the kind of mutation applied to an alert definition
type ChangeOp string

const (
	ChangeUpsert ChangeOp = "upsert"
	ChangeDelete ChangeOp = "delete"
	ChangeToggle ChangeOp = "toggle"
)

// AlertChange describes a mutation in durable storage.
// Alert always carries the definition as it was after the mutation
// (or just before it, for deletes).
type AlertChange struct {
	Op    ChangeOp  `json:"op"`
	Alert Alert     `json:"alert"`
	At    time.Time `json:"at"`
}
