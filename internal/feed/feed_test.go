package feed

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/bl8ckfz/stock-alert-engine/internal/alerts"
	"github.com/shopspring/decimal"
)

func TestTickSubject(t *testing.T) {
	tests := []struct {
		stock string
		want  string
	}{
		{"ACME", "prices.ticks.ACME"},
		{" brk.b ", "prices.ticks.BRK_B"},
		{"a*b>c", "prices.ticks.A_B_C"},
		{"foo bar", "prices.ticks.FOO_BAR"},
	}
	for _, tt := range tests {
		if got := TickSubject(tt.stock); got != tt.want {
			t.Errorf("TickSubject(%q) = %q, want %q", tt.stock, got, tt.want)
		}
	}
}

func TestDecodeTick(t *testing.T) {
	observed := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

	tests := []struct {
		name    string
		payload string
		price   string
		wantErr bool
	}{
		{"string price", `{"stock_name":"acme","price":"101.25","observed_at":"2024-03-01T09:30:00Z"}`, "101.25", false},
		{"number price", `{"stock_name":"ACME","price":101.25,"observed_at":"2024-03-01T09:30:00Z"}`, "101.25", false},
		{"missing price", `{"stock_name":"ACME"}`, "", true},
		{"null price", `{"stock_name":"ACME","price":null}`, "", true},
		{"missing stock", `{"price":"1"}`, "", true},
		{"garbage price", `{"stock_name":"ACME","price":"NaN"}`, "", true},
		{"not json", `price=1`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tick, err := DecodeTick([]byte(tt.payload))
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedTick) {
					t.Fatalf("Expected ErrMalformedTick, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeTick failed: %v", err)
			}
			if tick.StockName != "ACME" {
				t.Errorf("Expected stock ACME, got %q", tick.StockName)
			}
			if !tick.Price.Equal(decimal.RequireFromString(tt.price)) {
				t.Errorf("Expected price %s, got %s", tt.price, tick.Price)
			}
			if !tick.ObservedAt.Equal(observed) {
				t.Errorf("Expected observed_at %v, got %v", observed, tick.ObservedAt)
			}
		})
	}
}

func TestDecodeTick_PublishedPayload(t *testing.T) {
	in := alerts.PriceTick{
		StockName:  "ACME",
		Price:      decimal.RequireFromString("0.00012345"),
		ObservedAt: time.Date(2024, 3, 1, 9, 30, 0, 500, time.UTC),
	}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	out, err := DecodeTick(data)
	if err != nil {
		t.Fatalf("DecodeTick failed: %v", err)
	}
	if !out.Price.Equal(in.Price) || !out.ObservedAt.Equal(in.ObservedAt) {
		t.Errorf("Expected %+v, got %+v", in, out)
	}
}

func TestDecodeChange(t *testing.T) {
	valid, _ := json.Marshal(alerts.AlertChange{
		Op: alerts.ChangeToggle,
		Alert: alerts.Alert{
			ID:         "a1",
			StockName:  "ACME",
			LowerBound: decimal.NewFromInt(1),
			UpperBound: decimal.NewFromInt(2),
		},
	})

	change, err := DecodeChange(valid)
	if err != nil {
		t.Fatalf("DecodeChange failed: %v", err)
	}
	if change.Op != alerts.ChangeToggle || change.Alert.ID != "a1" {
		t.Errorf("Unexpected change: %+v", change)
	}
	if !change.Alert.UpperBound.Equal(decimal.NewFromInt(2)) {
		t.Errorf("Expected upper bound 2, got %s", change.Alert.UpperBound)
	}

	for _, payload := range []string{
		`{"op":"rename","alert":{"id":"a1"}}`,
		`{"op":"delete","alert":{}}`,
		`{`,
	} {
		if _, err := DecodeChange([]byte(payload)); err == nil {
			t.Errorf("Expected error for %s", payload)
		}
	}
}
