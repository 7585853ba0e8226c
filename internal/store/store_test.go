package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bl8ckfz/stock-alert-engine/internal/alerts"
	"github.com/bl8ckfz/stock-alert-engine/pkg/database"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type recordedChanges struct {
	mu      sync.Mutex
	changes []alerts.AlertChange
	err     error
}

func (r *recordedChanges) PublishChange(ctx context.Context, change alerts.AlertChange) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, change)
	return r.err
}

func newTestStore(t *testing.T) *SQLite {
	t.Helper()
	ctx := context.Background()

	db, err := database.OpenSQLite(ctx, ":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	s := NewSQLite(db, zerolog.Nop())
	t.Cleanup(s.Close)

	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	// Migrations must be re-runnable
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("Second migrate failed: %v", err)
	}
	return s
}

func input(stock string, lower, upper string) AlertInput {
	return AlertInput{
		StockName:   stock,
		DisplayName: stock + " range",
		LowerBound:  decimal.RequireFromString(lower),
		UpperBound:  decimal.RequireFromString(upper),
	}
}

func TestCatalog_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	pub := &recordedChanges{}
	c := NewCatalog(newTestStore(t), pub, zerolog.Nop())

	created, err := c.Create(ctx, input(" acme ", "10.125", "20.50000001"))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if created.ID == "" || !created.Enabled {
		t.Errorf("Expected enabled alert with id, got %+v", created)
	}
	if created.StockName != "ACME" {
		t.Errorf("Expected normalized stock ACME, got %q", created.StockName)
	}

	got, err := c.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !got.LowerBound.Equal(decimal.RequireFromString("10.125")) ||
		!got.UpperBound.Equal(decimal.RequireFromString("20.50000001")) {
		t.Errorf("Expected exact decimal bounds, got %s / %s", got.LowerBound, got.UpperBound)
	}
	if !got.CreatedAt.Equal(created.CreatedAt) {
		t.Errorf("Expected created_at %v, got %v", created.CreatedAt, got.CreatedAt)
	}

	if len(pub.changes) != 1 || pub.changes[0].Op != alerts.ChangeUpsert {
		t.Errorf("Expected one upsert change, got %+v", pub.changes)
	}
}

func TestCatalog_CreateRejectsInvalidBounds(t *testing.T) {
	ctx := context.Background()
	pub := &recordedChanges{}
	s := newTestStore(t)
	c := NewCatalog(s, pub, zerolog.Nop())

	tests := []struct {
		name string
		in   AlertInput
		want error
	}{
		{"equal", input("ACME", "10", "10"), alerts.ErrInvalidBounds},
		{"inverted", input("ACME", "20", "10"), alerts.ErrInvalidBounds},
		{"no stock", input("  ", "1", "2"), alerts.ErrInvalidAlert},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := c.Create(ctx, tt.in); !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}

	all, err := s.ListAlerts(ctx, AlertFilter{})
	if err != nil {
		t.Fatalf("ListAlerts failed: %v", err)
	}
	if len(all) != 0 {
		t.Errorf("Expected nothing persisted, got %d alerts", len(all))
	}
	if len(pub.changes) != 0 {
		t.Errorf("Expected no changes published, got %d", len(pub.changes))
	}
}

func TestCatalog_CreateDisabled(t *testing.T) {
	off := false
	in := input("ACME", "1", "2")
	in.Enabled = &off

	c := NewCatalog(newTestStore(t), nil, zerolog.Nop())
	a, err := c.Create(context.Background(), in)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if a.Enabled {
		t.Error("Expected alert to be created disabled")
	}
}

func TestCatalog_UpdateToggleDelete(t *testing.T) {
	ctx := context.Background()
	pub := &recordedChanges{}
	s := newTestStore(t)
	c := NewCatalog(s, pub, zerolog.Nop())

	a, err := c.Create(ctx, input("ACME", "10", "20"))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	updated, err := c.Update(ctx, a.ID, input("GLOBEX", "5", "6"))
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if updated.StockName != "GLOBEX" || !updated.Enabled {
		t.Errorf("Expected enabled GLOBEX alert, got %+v", updated)
	}

	if _, err := c.Update(ctx, a.ID, input("GLOBEX", "7", "6")); !errors.Is(err, alerts.ErrInvalidBounds) {
		t.Errorf("Expected ErrInvalidBounds on bad update, got %v", err)
	}
	stored, _ := c.Get(ctx, a.ID)
	if !stored.UpperBound.Equal(decimal.NewFromInt(6)) || !stored.LowerBound.Equal(decimal.NewFromInt(5)) {
		t.Errorf("Expected rejected update to leave bounds 5/6, got %s/%s", stored.LowerBound, stored.UpperBound)
	}

	toggled, err := c.Toggle(ctx, a.ID)
	if err != nil {
		t.Fatalf("Toggle failed: %v", err)
	}
	if toggled.Enabled {
		t.Error("Expected toggle to disable alert")
	}

	enabled, err := s.LoadAllEnabled(ctx)
	if err != nil {
		t.Fatalf("LoadAllEnabled failed: %v", err)
	}
	if len(enabled) != 0 {
		t.Errorf("Expected no enabled alerts, got %d", len(enabled))
	}

	if err := c.Delete(ctx, a.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := c.Get(ctx, a.ID); !errors.Is(err, alerts.ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}

	ops := []alerts.ChangeOp{alerts.ChangeUpsert, alerts.ChangeUpsert, alerts.ChangeToggle, alerts.ChangeDelete}
	if len(pub.changes) != len(ops) {
		t.Fatalf("Expected %d changes, got %d", len(ops), len(pub.changes))
	}
	for i, op := range ops {
		if pub.changes[i].Op != op {
			t.Errorf("Change %d: expected %s, got %s", i, op, pub.changes[i].Op)
		}
	}
	if pub.changes[3].Alert.StockName != "GLOBEX" {
		t.Errorf("Expected delete to carry the removed definition, got %+v", pub.changes[3].Alert)
	}
}

func TestCatalog_NotFound(t *testing.T) {
	ctx := context.Background()
	c := NewCatalog(newTestStore(t), nil, zerolog.Nop())

	if _, err := c.Get(ctx, "missing"); !errors.Is(err, alerts.ErrNotFound) {
		t.Errorf("Get: expected ErrNotFound, got %v", err)
	}
	if _, err := c.Update(ctx, "missing", input("ACME", "1", "2")); !errors.Is(err, alerts.ErrNotFound) {
		t.Errorf("Update: expected ErrNotFound, got %v", err)
	}
	if err := c.Delete(ctx, "missing"); !errors.Is(err, alerts.ErrNotFound) {
		t.Errorf("Delete: expected ErrNotFound, got %v", err)
	}
	if _, err := c.SetEnabled(ctx, "missing", true); !errors.Is(err, alerts.ErrNotFound) {
		t.Errorf("SetEnabled: expected ErrNotFound, got %v", err)
	}
}

func TestCatalog_UpdateAnnouncesByChange(t *testing.T) {
	off := false
	tests := []struct {
		name string
		edit func(in AlertInput) AlertInput
		want []alerts.ChangeOp
	}{
		{"no change", func(in AlertInput) AlertInput { return in }, nil},
		{"enabled only", func(in AlertInput) AlertInput { in.Enabled = &off; return in }, []alerts.ChangeOp{alerts.ChangeToggle}},
		{"display name", func(in AlertInput) AlertInput { in.DisplayName = "renamed"; return in }, []alerts.ChangeOp{alerts.ChangeUpsert}},
		{"upper bound", func(in AlertInput) AlertInput { in.UpperBound = decimal.RequireFromString("30"); return in }, []alerts.ChangeOp{alerts.ChangeUpsert}},
		{"bound and enabled", func(in AlertInput) AlertInput {
			in.LowerBound = decimal.RequireFromString("5")
			in.Enabled = &off
			return in
		}, []alerts.ChangeOp{alerts.ChangeUpsert}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			pub := &recordedChanges{}
			c := NewCatalog(newTestStore(t), pub, zerolog.Nop())

			base := input("ACME", "10", "20")
			a, err := c.Create(ctx, base)
			if err != nil {
				t.Fatalf("Create failed: %v", err)
			}
			pub.changes = nil

			updated, err := c.Update(ctx, a.ID, tt.edit(base))
			if err != nil {
				t.Fatalf("Update failed: %v", err)
			}

			if len(pub.changes) != len(tt.want) {
				t.Fatalf("Expected changes %v, got %d", tt.want, len(pub.changes))
			}
			for i, op := range tt.want {
				if pub.changes[i].Op != op {
					t.Errorf("Change %d: expected %s, got %s", i, op, pub.changes[i].Op)
				}
				if pub.changes[i].Alert.Enabled != updated.Enabled {
					t.Errorf("Change %d carries enabled=%v, want %v", i, pub.changes[i].Alert.Enabled, updated.Enabled)
				}
			}
		})
	}
}

func TestCatalog_PublishFailureDoesNotFailWrite(t *testing.T) {
	ctx := context.Background()
	pub := &recordedChanges{err: errors.New("nats: timeout")}
	c := NewCatalog(newTestStore(t), pub, zerolog.Nop())

	a, err := c.Create(ctx, input("ACME", "1", "2"))
	if err != nil {
		t.Fatalf("Expected create to succeed despite publish error, got %v", err)
	}
	if _, err := c.Get(ctx, a.ID); err != nil {
		t.Errorf("Expected alert to be stored, got %v", err)
	}
}

func TestCatalog_ListFilters(t *testing.T) {
	ctx := context.Background()
	c := NewCatalog(newTestStore(t), nil, zerolog.Nop())

	for _, stock := range []string{"ACME", "GLOBEX", "ACME"} {
		if _, err := c.Create(ctx, input(stock, "1", "2")); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	all, err := c.List(ctx, AlertFilter{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("Expected 3 alerts, got %d", len(all))
	}

	acme, err := c.List(ctx, AlertFilter{StockName: "acme"})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(acme) != 2 {
		t.Errorf("Expected 2 ACME alerts, got %d", len(acme))
	}
}

func triggered(id, alertID, stock string, at time.Time) alerts.TriggeredAlert {
	return alerts.TriggeredAlert{
		ID:             id,
		AlertID:        alertID,
		StockName:      stock,
		BoundCrossed:   alerts.BoundUpper,
		BoundValue:     decimal.NewFromInt(20),
		PriceAtTrigger: decimal.RequireFromString("20.0001"),
		TriggeredAt:    at,
	}
}

func TestSQLite_RecordIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	at := time.Date(2024, 3, 1, 10, 0, 0, 123456789, time.UTC)

	ev := triggered("t1", "a1", "ACME", at)
	for i := 0; i < 3; i++ {
		if err := s.Record(ctx, ev); err != nil {
			t.Fatalf("Record %d failed: %v", i, err)
		}
	}

	got, err := s.ListTriggered(ctx, TriggeredFilter{})
	if err != nil {
		t.Fatalf("ListTriggered failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Expected 1 row, got %d", len(got))
	}
	if !got[0].TriggeredAt.Equal(at) {
		t.Errorf("Expected triggered_at %v, got %v", at, got[0].TriggeredAt)
	}
	if !got[0].PriceAtTrigger.Equal(ev.PriceAtTrigger) || got[0].BoundCrossed != alerts.BoundUpper {
		t.Errorf("Unexpected row: %+v", got[0])
	}
}

func TestSQLite_ListTriggeredFilters(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	events := []alerts.TriggeredAlert{
		triggered("t1", "a1", "ACME", base),
		triggered("t2", "a1", "ACME", base.Add(time.Minute)),
		triggered("t3", "a2", "GLOBEX", base.Add(2*time.Minute)),
		triggered("t4", "a1", "ACME", base.Add(3*time.Minute)),
	}
	for _, ev := range events {
		if err := s.Record(ctx, ev); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	tests := []struct {
		name   string
		filter TriggeredFilter
		want   []string
	}{
		{"all newest first", TriggeredFilter{}, []string{"t4", "t3", "t2", "t1"}},
		{"by stock", TriggeredFilter{StockName: "GLOBEX"}, []string{"t3"}},
		{"by alert", TriggeredFilter{AlertID: "a1"}, []string{"t4", "t2", "t1"}},
		{"since", TriggeredFilter{Since: base.Add(time.Minute)}, []string{"t4", "t3", "t2"}},
		{"limit", TriggeredFilter{Limit: 2}, []string{"t4", "t3"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListTriggered(ctx, tt.filter)
			if err != nil {
				t.Fatalf("ListTriggered failed: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("Expected %d rows, got %d", len(tt.want), len(got))
			}
			for i, id := range tt.want {
				if got[i].ID != id {
					t.Errorf("Row %d: expected %s, got %s", i, id, got[i].ID)
				}
			}
		})
	}
}

func TestSQLite_TriggeredSurvivesAlertDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	c := NewCatalog(s, nil, zerolog.Nop())

	a, err := c.Create(ctx, input("ACME", "1", "2"))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := s.Record(ctx, triggered("t1", a.ID, "ACME", time.Now())); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := c.Delete(ctx, a.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	got, err := c.Triggered(ctx, TriggeredFilter{AlertID: a.ID})
	if err != nil {
		t.Fatalf("Triggered failed: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("Expected history to survive delete, got %d rows", len(got))
	}
}

func TestTriggeredFilterLimit(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{0, defaultTriggeredLimit},
		{-5, defaultTriggeredLimit},
		{10, 10},
		{5000, 1000},
	}
	for _, tt := range tests {
		if got := (TriggeredFilter{Limit: tt.in}).limit(); got != tt.want {
			t.Errorf("limit(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
