package registry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"storefront-hq/payrelay/pkg/registry/storage"
)

func newTestRegistry(t *testing.T) (*Registry, *storage.Memory) {
	t.Helper()

	store := storage.NewMemory()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := New(store, Options{Logger: logger})
	return reg, store
}

func mustAddServer(t *testing.T, reg *Registry, name string, capacity, usage string, priority int, active bool) *Server {
	t.Helper()

	srv := &Server{
		Name:          name,
		URL:           "https://" + name + ".example.com",
		CapacityLimit: decimal.RequireFromString(capacity),
		CurrentUsage:  decimal.RequireFromString(usage),
		Priority:      priority,
		IsActive:      active,
	}
	id, err := reg.AddServer(context.Background(), srv)
	if err != nil {
		t.Fatalf("AddServer(%s) failed: %v", name, err)
	}
	srv.ID = id
	return srv
}

// assertSingleSelected verifies the single-selected invariant and returns
// the selected id, or zero when no server is selected.
func assertSingleSelected(t *testing.T, store *storage.Memory) int64 {
	t.Helper()

	servers, err := store.List(context.Background(), storage.ListOptions{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}

	var selected int64
	count := 0
	for _, srv := range servers {
		if srv.IsSelected {
			count++
			selected = srv.ID
		}
	}
	if count > 1 {
		t.Fatalf("invariant violated: %d servers selected, want at most 1", count)
	}
	return selected
}

func TestAddServer_FirstServerAutoSelected(t *testing.T) {
	reg, store := newTestRegistry(t)
	ctx := context.Background()

	srv := mustAddServer(t, reg, "alpha", "100.00", "0", 0, true)

	got, err := reg.GetSelectedServer(ctx)
	if err != nil {
		t.Fatalf("GetSelectedServer failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected first server to be auto-selected")
	}
	if got.ID != srv.ID {
		t.Errorf("expected server %d selected, got %d", srv.ID, got.ID)
	}

	// A second server must not steal the selection.
	mustAddServer(t, reg, "beta", "100.00", "0", 0, true)
	if id := assertSingleSelected(t, store); id != srv.ID {
		t.Errorf("expected server %d to stay selected, got %d", srv.ID, id)
	}
}

func TestGetSelectedServer_NoneReturnsNil(t *testing.T) {
	reg, _ := newTestRegistry(t)

	got, err := reg.GetSelectedServer(context.Background())
	if err != nil {
		t.Fatalf("GetSelectedServer failed: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for empty registry, got server %d", got.ID)
	}
}

func TestGetNextAvailableServer_StickyUnderCapacity(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	srv := mustAddServer(t, reg, "alpha", "100.00", "50.00", 0, true)
	mustAddServer(t, reg, "beta", "100.00", "0", 0, true)

	// Repeated calls with no intervening usage must return the same server.
	for i := 0; i < 5; i++ {
		got, err := reg.GetNextAvailableServer(ctx)
		if err != nil {
			t.Fatalf("GetNextAvailableServer failed: %v", err)
		}
		if got.ID != srv.ID {
			t.Fatalf("call %d: expected sticky server %d, got %d", i, srv.ID, got.ID)
		}
	}
}

func TestGetNextAvailableServer_EmptyRegistry(t *testing.T) {
	reg, _ := newTestRegistry(t)

	_, err := reg.GetNextAvailableServer(context.Background())
	if !errors.Is(err, ErrNoServers) {
		t.Errorf("expected ErrNoServers, got %v", err)
	}
}

func TestGetNextAvailableServer_SelectedExhaustedMovesOn(t *testing.T) {
	reg, store := newTestRegistry(t)
	ctx := context.Background()

	exhausted := mustAddServer(t, reg, "alpha", "100.00", "100.00", 0, true)
	fresh := mustAddServer(t, reg, "beta", "100.00", "0", 0, true)

	got, err := reg.GetNextAvailableServer(ctx)
	if err != nil {
		t.Fatalf("GetNextAvailableServer failed: %v", err)
	}
	if got.ID != fresh.ID {
		t.Errorf("expected server %d, got %d", fresh.ID, got.ID)
	}

	// The selection pointer must track the automatic move.
	if id := assertSingleSelected(t, store); id != fresh.ID {
		t.Errorf("expected selection on %d, got %d", fresh.ID, id)
	}
	if exhausted.ID == got.ID {
		t.Error("exhausted server must not be returned")
	}
}

func TestGetNextAvailableServer_PriorityOrdering(t *testing.T) {
	reg, store := newTestRegistry(t)
	ctx := context.Background()

	mustAddServer(t, reg, "low", "100.00", "100.00", 5, true) // selected, exhausted
	mustAddServer(t, reg, "mid", "100.00", "0", 3, true)
	want := mustAddServer(t, reg, "high", "100.00", "0", 1, true)

	got, err := reg.GetNextAvailableServer(ctx)
	if err != nil {
		t.Fatalf("GetNextAvailableServer failed: %v", err)
	}
	if got.ID != want.ID {
		t.Errorf("expected highest-priority server %d, got %d", want.ID, got.ID)
	}
	assertSingleSelected(t, store)
}

func TestGetNextAvailableServer_RatioFallback(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	// A at 110%, B at 105%, both active and over capacity.
	mustAddServer(t, reg, "a", "100.00", "110.00", 0, true)
	b := mustAddServer(t, reg, "b", "100.00", "105.00", 0, true)

	got, err := reg.GetNextAvailableServer(ctx)
	if err != nil {
		t.Fatalf("GetNextAvailableServer failed: %v", err)
	}
	if got.ID != b.ID {
		t.Errorf("expected lowest-ratio server %d, got %d", b.ID, got.ID)
	}
}

func TestGetNextAvailableServer_InactiveFallback(t *testing.T) {
	reg, store := newTestRegistry(t)
	ctx := context.Background()

	// No active servers at all: selection still returns something rather
	// than refusing service.
	first := mustAddServer(t, reg, "a", "100.00", "0", 2, false)
	want := mustAddServer(t, reg, "b", "100.00", "0", 1, false)

	// The auto-selected first server is inactive with spare capacity;
	// sticky keeps it. Clear the pointer to exercise the fallback path.
	if err := store.ClearSelected(ctx); err != nil {
		t.Fatalf("ClearSelected failed: %v", err)
	}

	got, err := reg.GetNextAvailableServer(ctx)
	if err != nil {
		t.Fatalf("GetNextAvailableServer failed: %v", err)
	}
	if got.ID != want.ID {
		t.Errorf("expected priority-ordered fallback %d, got %d", want.ID, got.ID)
	}
	_ = first
}

func TestGetNextAvailableServer_RotationTieBreak(t *testing.T) {
	reg, store := newTestRegistry(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	reg.now = func() time.Time { return base.Add(time.Hour) }

	a := mustAddServer(t, reg, "a", "100.00", "0", 0, true)
	b := mustAddServer(t, reg, "b", "100.00", "0", 0, true)

	// a used more recently than b; equal priority, so b goes first.
	if err := store.Touch(ctx, a.ID, base.Add(10*time.Minute)); err != nil {
		t.Fatalf("Touch failed: %v", err)
	}
	if err := store.Touch(ctx, b.ID, base); err != nil {
		t.Fatalf("Touch failed: %v", err)
	}
	if err := store.ClearSelected(ctx); err != nil {
		t.Fatalf("ClearSelected failed: %v", err)
	}

	got, err := reg.GetNextAvailableServer(ctx)
	if err != nil {
		t.Fatalf("GetNextAvailableServer failed: %v", err)
	}
	if got.ID != b.ID {
		t.Fatalf("expected least-recently-used server %d, got %d", b.ID, got.ID)
	}

	// Selection stamped b's last_used, so with the pointer cleared again
	// the rotation now favors a.
	if err := store.ClearSelected(ctx); err != nil {
		t.Fatalf("ClearSelected failed: %v", err)
	}
	got, err = reg.GetNextAvailableServer(ctx)
	if err != nil {
		t.Fatalf("GetNextAvailableServer failed: %v", err)
	}
	if got.ID != a.ID {
		t.Errorf("expected rotation to pick %d next, got %d", a.ID, got.ID)
	}
}

func TestSetSelectedServer(t *testing.T) {
	reg, store := newTestRegistry(t)
	ctx := context.Background()

	mustAddServer(t, reg, "a", "100.00", "0", 0, true)
	b := mustAddServer(t, reg, "b", "100.00", "200.00", 0, false)

	// Pinning ignores capacity and activity.
	if err := reg.SetSelectedServer(ctx, b.ID); err != nil {
		t.Fatalf("SetSelectedServer failed: %v", err)
	}
	if id := assertSingleSelected(t, store); id != b.ID {
		t.Errorf("expected selection on %d, got %d", b.ID, id)
	}

	if err := reg.SetSelectedServer(ctx, 999); !errors.Is(err, ErrServerNotFound) {
		t.Errorf("expected ErrServerNotFound, got %v", err)
	}
}

func TestUpdateServer_PreservesSelection(t *testing.T) {
	reg, store := newTestRegistry(t)
	ctx := context.Background()

	srv := mustAddServer(t, reg, "a", "100.00", "0", 0, true)

	updated := srv.Clone()
	updated.Name = "renamed"
	updated.IsSelected = false // callers cannot unset selection via update
	if err := reg.UpdateServer(ctx, updated); err != nil {
		t.Fatalf("UpdateServer failed: %v", err)
	}

	if id := assertSingleSelected(t, store); id != srv.ID {
		t.Errorf("expected selection preserved on %d, got %d", srv.ID, id)
	}

	got, err := reg.GetServer(ctx, srv.ID)
	if err != nil {
		t.Fatalf("GetServer failed: %v", err)
	}
	if got.Name != "renamed" {
		t.Errorf("expected name %q, got %q", "renamed", got.Name)
	}
}

func TestUpdateServer_Validation(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	srv := mustAddServer(t, reg, "a", "100.00", "0", 0, true)

	bad := srv.Clone()
	bad.Name = ""
	if err := reg.UpdateServer(ctx, bad); !errors.Is(err, ErrInvalidServer) {
		t.Errorf("expected ErrInvalidServer for empty name, got %v", err)
	}

	missing := srv.Clone()
	missing.ID = 999
	if err := reg.UpdateServer(ctx, missing); !errors.Is(err, ErrServerNotFound) {
		t.Errorf("expected ErrServerNotFound, got %v", err)
	}
}

func TestDeleteServer_Reselection(t *testing.T) {
	reg, store := newTestRegistry(t)
	ctx := context.Background()

	selected := mustAddServer(t, reg, "a", "100.00", "0", 3, true)
	mustAddServer(t, reg, "b", "100.00", "0", 2, true)
	want := mustAddServer(t, reg, "c", "100.00", "0", 1, true)

	if err := reg.DeleteServer(ctx, selected.ID); err != nil {
		t.Fatalf("DeleteServer failed: %v", err)
	}

	// Reselection prefers active servers by (priority, id).
	if id := assertSingleSelected(t, store); id != want.ID {
		t.Errorf("expected reselection on %d, got %d", want.ID, id)
	}
}

func TestDeleteServer_ReselectionNoActive(t *testing.T) {
	reg, store := newTestRegistry(t)
	ctx := context.Background()

	selected := mustAddServer(t, reg, "a", "100.00", "0", 0, true)
	want := mustAddServer(t, reg, "b", "100.00", "0", 0, false)
	mustAddServer(t, reg, "c", "100.00", "0", 0, false)

	if err := reg.DeleteServer(ctx, selected.ID); err != nil {
		t.Fatalf("DeleteServer failed: %v", err)
	}

	// No active servers remain: any server by id ascending.
	if id := assertSingleSelected(t, store); id != want.ID {
		t.Errorf("expected reselection on %d, got %d", want.ID, id)
	}
}

func TestDeleteServer_LastServerLeavesNoSelection(t *testing.T) {
	reg, store := newTestRegistry(t)
	ctx := context.Background()

	srv := mustAddServer(t, reg, "a", "100.00", "0", 0, true)

	if err := reg.DeleteServer(ctx, srv.ID); err != nil {
		t.Fatalf("DeleteServer failed: %v", err)
	}

	if id := assertSingleSelected(t, store); id != 0 {
		t.Errorf("expected no selection on empty registry, got %d", id)
	}

	if err := reg.DeleteServer(ctx, srv.ID); !errors.Is(err, ErrServerNotFound) {
		t.Errorf("expected ErrServerNotFound on second delete, got %v", err)
	}
}

func TestDeleteServer_UnselectedNoReselection(t *testing.T) {
	reg, store := newTestRegistry(t)
	ctx := context.Background()

	selected := mustAddServer(t, reg, "a", "100.00", "0", 0, true)
	other := mustAddServer(t, reg, "b", "100.00", "0", 0, true)

	if err := reg.DeleteServer(ctx, other.ID); err != nil {
		t.Fatalf("DeleteServer failed: %v", err)
	}
	if id := assertSingleSelected(t, store); id != selected.ID {
		t.Errorf("expected selection unchanged on %d, got %d", selected.ID, id)
	}
}

func TestResetUsage(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	srv := mustAddServer(t, reg, "a", "100.00", "75.50", 0, false)

	if err := reg.ResetUsage(ctx, srv.ID); err != nil {
		t.Fatalf("ResetUsage failed: %v", err)
	}

	got, err := reg.GetServer(ctx, srv.ID)
	if err != nil {
		t.Fatalf("GetServer failed: %v", err)
	}
	if !got.CurrentUsage.IsZero() {
		t.Errorf("expected usage 0, got %s", got.CurrentUsage)
	}
	// Reset must not re-activate a deactivated server.
	if got.IsActive {
		t.Error("reset-usage must not change the active flag")
	}
}

func TestGetServer_NotFound(t *testing.T) {
	reg, _ := newTestRegistry(t)

	_, err := reg.GetServer(context.Background(), 42)
	if !errors.Is(err, ErrServerNotFound) {
		t.Errorf("expected ErrServerNotFound, got %v", err)
	}

	var notFound *ServerNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected *ServerNotFoundError, got %T", err)
	}
	if notFound.ID != 42 {
		t.Errorf("expected id 42 in error, got %d", notFound.ID)
	}
}

func TestGetAllServers(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	mustAddServer(t, reg, "a", "100.00", "0", 5, true)
	mustAddServer(t, reg, "b", "100.00", "0", 1, true)

	servers, err := reg.GetAllServers(ctx)
	if err != nil {
		t.Fatalf("GetAllServers failed: %v", err)
	}
	if len(servers) != 2 {
		t.Fatalf("expected 2 servers, got %d", len(servers))
	}
	// Ordered by id, not priority.
	if servers[0].Name != "a" || servers[1].Name != "b" {
		t.Errorf("expected id ordering, got %s, %s", servers[0].Name, servers[1].Name)
	}
}

func TestAddServer_Validation(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	tests := []struct {
		name string
		srv  *Server
	}{
		{"nil server", nil},
		{"empty name", &Server{URL: "https://x.example.com"}},
		{"empty url", &Server{Name: "x"}},
		{"negative capacity", &Server{
			Name: "x", URL: "https://x.example.com",
			CapacityLimit: decimal.RequireFromString("-1"),
		}},
		{"zero capacity", &Server{
			Name: "x", URL: "https://x.example.com",
			CapacityLimit: decimal.Zero,
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := reg.AddServer(ctx, tt.srv); !errors.Is(err, ErrInvalidServer) {
				t.Errorf("expected ErrInvalidServer, got %v", err)
			}
		})
	}
}
