package registry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"storefront-hq/payrelay/pkg/registry/storage"
)

// Server is the proxy server record managed by the registry.
type Server = storage.Server

// EventRecorder receives audit events emitted by the registry. Recording is
// best-effort: implementations must not block and their failures never fail
// the business operation that triggered the event.
type EventRecorder interface {
	RecordEvent(ctx context.Context, eventType string, serverID int64, fields map[string]string)
}

// Audit event types emitted by the registry.
const (
	EventServerAdded       = "server_added"
	EventServerUpdated     = "server_updated"
	EventServerDeleted     = "server_deleted"
	EventSelectionChanged  = "selection_changed"
	EventFailover          = "failover"
	EventUsageRecorded     = "usage_recorded"
	EventUsageReset        = "usage_reset"
	EventCapacityExhausted = "capacity_exhausted"
)

// Registry answers "which server should handle the next checkout" and keeps
// the capacity accounting behind that answer. One logical Registry exists
// per process; all shared state lives in the store, so request-scoped
// callers can share a single instance freely.
type Registry struct {
	store    storage.Store
	logger   *slog.Logger
	metrics  *Metrics
	recorder EventRecorder

	// now is replaceable for tests.
	now func() time.Time
}

// Options configures optional registry collaborators.
type Options struct {
	// Logger receives selection decisions and capacity warnings.
	// Defaults to slog.Default().
	Logger *slog.Logger

	// Metrics receives Prometheus counters and gauges. Nil disables
	// metric recording.
	Metrics *Metrics

	// Recorder receives audit events. Nil disables audit recording.
	Recorder EventRecorder
}

// New creates a Registry backed by the given store.
func New(store storage.Store, opts Options) *Registry {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Registry{
		store:    store,
		logger:   logger.With("component", "registry"),
		metrics:  opts.Metrics,
		recorder: opts.Recorder,
		now:      time.Now,
	}
}

// GetSelectedServer returns the server currently holding the selected flag,
// or (nil, nil) when no server is selected. It is a pure read: the returned
// server may already be over capacity, so payment paths must go through
// GetNextAvailableServer instead.
func (r *Registry) GetSelectedServer(ctx context.Context) (*Server, error) {
	servers, err := r.store.List(ctx, storage.ListOptions{OrderBy: storage.OrderByID})
	if err != nil {
		return nil, fmt.Errorf("failed to read selection: %w", err)
	}

	for _, srv := range servers {
		if srv.IsSelected {
			return srv, nil
		}
	}
	return nil, nil
}

// GetNextAvailableServer picks the server that should handle the next
// checkout and persists the selection pointer when it moves.
//
// Decision order:
//  1. The currently selected server, unchanged, while it is under capacity.
//  2. The best active under-capacity server by (priority, last_used, id).
//  3. Failing that, the active server with the lowest usage-to-capacity
//     ratio (ties broken by priority, then id).
//  4. As a last resort, any server regardless of the active flag, by
//     (priority, id). The registry prefers attempting a payment over
//     refusing service when misconfigured.
//
// Returns ErrNoServers only when the registry is empty.
func (r *Registry) GetNextAvailableServer(ctx context.Context) (*Server, error) {
	selected, err := r.GetSelectedServer(ctx)
	if err != nil {
		return nil, err
	}

	// Sticky preference: keep the selected server while capacity remains.
	if selected != nil && selected.CurrentUsage.LessThan(selected.CapacityLimit) {
		r.metrics.recordSelection("sticky")
		return selected, nil
	}

	chosen, outcome, err := r.pickReplacement(ctx, 0)
	if err != nil {
		return nil, err
	}

	if selected == nil || chosen.ID != selected.ID {
		if err := r.moveSelection(ctx, chosen); err != nil {
			return nil, err
		}

		r.logger.Info("selection moved",
			"server_id", chosen.ID,
			"server", chosen.Name,
			"outcome", outcome,
		)
		r.record(ctx, EventSelectionChanged, chosen.ID, map[string]string{
			"outcome": outcome,
		})
	}

	r.metrics.recordSelection(outcome)
	return chosen, nil
}

// pickReplacement runs steps 2a-2c of the selection algorithm, excluding
// excludeID when non-zero. It returns the chosen server and the outcome
// label for logging and metrics.
func (r *Registry) pickReplacement(ctx context.Context, excludeID int64) (*Server, string, error) {
	active, err := r.store.List(ctx, storage.ListOptions{
		ActiveOnly: true,
		ExcludeID:  excludeID,
		OrderBy:    storage.OrderByRotation,
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to list active servers: %w", err)
	}

	// 2a: first active server with remaining capacity, in rotation order.
	for _, srv := range active {
		if srv.CurrentUsage.LessThan(srv.CapacityLimit) {
			return srv, "rotation", nil
		}
	}

	// 2b: every active server is at or over capacity. Degrade to the one
	// with the lowest usage-to-capacity ratio rather than fail outright.
	if best := lowestRatio(active); best != nil {
		r.logger.Warn("all active servers at capacity, using lowest-ratio fallback",
			"server_id", best.ID,
			"usage_ratio", best.UsageRatio().String(),
		)
		return best, "ratio_fallback", nil
	}

	// 2c: no active servers at all. Fall back to any record, inactive
	// included, rather than refuse service entirely.
	all, err := r.store.List(ctx, storage.ListOptions{
		ExcludeID: excludeID,
		OrderBy:   storage.OrderByPriorityID,
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to list servers: %w", err)
	}
	if len(all) == 0 {
		return nil, "", ErrNoServers
	}

	r.logger.Warn("no active servers, falling back to inactive server",
		"server_id", all[0].ID,
		"server", all[0].Name,
	)
	return all[0], "inactive_fallback", nil
}

// moveSelection persists the selection pointer onto srv and stamps its
// LastUsed so equal-priority servers rotate.
func (r *Registry) moveSelection(ctx context.Context, srv *Server) error {
	if err := r.store.SetSelected(ctx, srv.ID); err != nil {
		if err == storage.ErrNotFound {
			return &ServerNotFoundError{ID: srv.ID}
		}
		return fmt.Errorf("failed to persist selection: %w", err)
	}

	now := r.now()
	if err := r.store.Touch(ctx, srv.ID, now); err != nil {
		// Selection already moved; a stale last_used only weakens
		// rotation, so log and continue.
		r.logger.Warn("failed to stamp last_used", "server_id", srv.ID, "error", err)
	} else {
		srv.LastUsed = now
	}

	srv.IsSelected = true
	return nil
}

// AddServerUsage records amount against the server after a successful
// payment capture. The caller must invoke it exactly once per captured
// payment; the registry does not deduplicate by order id.
//
// Non-positive amounts and unknown ids are rejected before any mutation.
// If the server was selected and the add pushes it to or past its capacity
// limit, it is deactivated and the selection fails over to the best active
// alternative; when no alternative exists the server is re-activated so the
// registry never ends up with zero usable servers.
func (r *Registry) AddServerUsage(ctx context.Context, id int64, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		r.metrics.recordRejectedInput()
		return &InvalidAmountError{Amount: amount}
	}

	// Pre-write read; the threshold decision below uses this snapshot.
	srv, err := r.store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to read server: %w", err)
	}
	if srv == nil {
		r.metrics.recordRejectedInput()
		return &ServerNotFoundError{ID: id}
	}
	wasSelected := srv.IsSelected

	updated, err := r.store.AddUsage(ctx, id, amount, r.now())
	if err != nil {
		if err == storage.ErrNotFound {
			return &ServerNotFoundError{ID: id}
		}
		return fmt.Errorf("failed to record usage: %w", err)
	}

	r.logger.Debug("usage recorded",
		"server_id", id,
		"amount", amount.String(),
		"current_usage", updated.CurrentUsage.String(),
		"capacity_limit", updated.CapacityLimit.String(),
	)
	r.metrics.recordUsage(updated, amount)
	r.record(ctx, EventUsageRecorded, id, map[string]string{
		"amount":        amount.String(),
		"current_usage": updated.CurrentUsage.String(),
	})

	if wasSelected && updated.CurrentUsage.GreaterThanOrEqual(updated.CapacityLimit) {
		if err := r.failover(ctx, updated); err != nil {
			return err
		}
	}

	return nil
}

// failover deactivates the exhausted server and proactively moves the
// selection pointer, so subsequent reads reflect reality without re-running
// selection.
func (r *Registry) failover(ctx context.Context, exhausted *Server) error {
	r.logger.Warn("server capacity exhausted",
		"server_id", exhausted.ID,
		"server", exhausted.Name,
		"current_usage", exhausted.CurrentUsage.String(),
		"capacity_limit", exhausted.CapacityLimit.String(),
	)
	r.record(ctx, EventCapacityExhausted, exhausted.ID, map[string]string{
		"current_usage":  exhausted.CurrentUsage.String(),
		"capacity_limit": exhausted.CapacityLimit.String(),
	})

	// Field-level write: a full-record update here would overwrite usage
	// added by payments landing between the atomic add and this call.
	if err := r.store.SetActive(ctx, exhausted.ID, false); err != nil {
		return fmt.Errorf("failed to deactivate server: %w", err)
	}
	exhausted.IsActive = false

	alternatives, err := r.store.List(ctx, storage.ListOptions{
		ActiveOnly: true,
		ExcludeID:  exhausted.ID,
		OrderBy:    storage.OrderByRotation,
	})
	if err != nil {
		return fmt.Errorf("failed to list failover candidates: %w", err)
	}

	if len(alternatives) == 0 {
		// No usable replacement. Re-activate and keep serving over
		// capacity rather than take checkout down.
		if err := r.store.SetActive(ctx, exhausted.ID, true); err != nil {
			return fmt.Errorf("failed to re-activate server: %w", err)
		}
		exhausted.IsActive = true

		r.logger.Warn("no failover candidate, continuing over capacity",
			"server_id", exhausted.ID,
		)
		return nil
	}

	replacement := alternatives[0]
	if err := r.moveSelection(ctx, replacement); err != nil {
		return err
	}

	r.logger.Info("failover completed",
		"from_server_id", exhausted.ID,
		"to_server_id", replacement.ID,
		"to_server", replacement.Name,
	)
	r.metrics.recordFailover()
	r.record(ctx, EventFailover, replacement.ID, map[string]string{
		"from_server_id": fmt.Sprintf("%d", exhausted.ID),
	})

	return nil
}

// SetSelectedServer pins the selection pointer to the given server. No
// capacity or activity check is applied: an administrator may deliberately
// pin a server that the next GetNextAvailableServer call will route around.
func (r *Registry) SetSelectedServer(ctx context.Context, id int64) error {
	if err := r.store.SetSelected(ctx, id); err != nil {
		if err == storage.ErrNotFound {
			return &ServerNotFoundError{ID: id}
		}
		return fmt.Errorf("failed to set selection: %w", err)
	}

	r.logger.Info("selection pinned", "server_id", id)
	r.record(ctx, EventSelectionChanged, id, map[string]string{"outcome": "manual"})
	return nil
}

// AddServer validates and persists a new server record. The first server
// added to an empty registry is automatically flagged as selected.
func (r *Registry) AddServer(ctx context.Context, srv *Server) (int64, error) {
	if err := validateServer(srv); err != nil {
		return 0, err
	}

	existing, err := r.store.List(ctx, storage.ListOptions{OrderBy: storage.OrderByID})
	if err != nil {
		return 0, fmt.Errorf("failed to list servers: %w", err)
	}
	if len(existing) == 0 {
		srv.IsSelected = true
	}

	id, err := r.store.Insert(ctx, srv)
	if err != nil {
		return 0, fmt.Errorf("failed to add server: %w", err)
	}
	srv.ID = id

	r.logger.Info("server added", "server_id", id, "server", srv.Name, "url", srv.URL)
	r.record(ctx, EventServerAdded, id, map[string]string{"name": srv.Name})
	return id, nil
}

// UpdateServer validates and overwrites an existing record. Selection
// changes must go through SetSelectedServer; UpdateServer preserves the
// stored IsSelected flag.
func (r *Registry) UpdateServer(ctx context.Context, srv *Server) error {
	if err := validateServer(srv); err != nil {
		return err
	}

	current, err := r.store.Get(ctx, srv.ID)
	if err != nil {
		return fmt.Errorf("failed to read server: %w", err)
	}
	if current == nil {
		return &ServerNotFoundError{ID: srv.ID}
	}

	srv.IsSelected = current.IsSelected
	if err := r.store.Update(ctx, srv); err != nil {
		if err == storage.ErrNotFound {
			return &ServerNotFoundError{ID: srv.ID}
		}
		return fmt.Errorf("failed to update server: %w", err)
	}

	r.logger.Info("server updated", "server_id", srv.ID, "server", srv.Name)
	r.record(ctx, EventServerUpdated, srv.ID, map[string]string{"name": srv.Name})
	return nil
}

// DeleteServer removes a record. Deleting the selected server triggers
// reselection: the best active server by (priority, id), else any server by
// id, else the selection pointer is simply absent.
func (r *Registry) DeleteServer(ctx context.Context, id int64) error {
	srv, err := r.store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to read server: %w", err)
	}
	if srv == nil {
		return &ServerNotFoundError{ID: id}
	}

	if err := r.store.Delete(ctx, id); err != nil {
		if err == storage.ErrNotFound {
			return &ServerNotFoundError{ID: id}
		}
		return fmt.Errorf("failed to delete server: %w", err)
	}

	r.logger.Info("server deleted", "server_id", id, "server", srv.Name)
	r.record(ctx, EventServerDeleted, id, map[string]string{"name": srv.Name})

	if !srv.IsSelected {
		return nil
	}

	replacement, err := r.reselectAfterDelete(ctx)
	if err != nil {
		return err
	}
	if replacement == nil {
		r.logger.Info("registry empty after delete, no selection")
		return nil
	}

	if err := r.store.SetSelected(ctx, replacement.ID); err != nil {
		return fmt.Errorf("failed to persist reselection: %w", err)
	}

	r.logger.Info("reselected after delete", "server_id", replacement.ID)
	r.record(ctx, EventSelectionChanged, replacement.ID, map[string]string{
		"outcome": "delete_reselection",
	})
	return nil
}

// reselectAfterDelete finds the replacement for a deleted selected server.
func (r *Registry) reselectAfterDelete(ctx context.Context) (*Server, error) {
	active, err := r.store.List(ctx, storage.ListOptions{
		ActiveOnly: true,
		OrderBy:    storage.OrderByPriorityID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list active servers: %w", err)
	}
	if len(active) > 0 {
		return active[0], nil
	}

	all, err := r.store.List(ctx, storage.ListOptions{OrderBy: storage.OrderByID})
	if err != nil {
		return nil, fmt.Errorf("failed to list servers: %w", err)
	}
	if len(all) > 0 {
		return all[0], nil
	}
	return nil, nil
}

// ResetUsage sets a server's usage to exactly zero. It never touches the
// active flag: re-activation of an administrator-deactivated server is a
// separate, explicit action.
func (r *Registry) ResetUsage(ctx context.Context, id int64) error {
	if err := r.store.ResetUsage(ctx, id); err != nil {
		if err == storage.ErrNotFound {
			return &ServerNotFoundError{ID: id}
		}
		return fmt.Errorf("failed to reset usage: %w", err)
	}

	r.logger.Info("usage reset", "server_id", id)
	r.record(ctx, EventUsageReset, id, nil)
	return nil
}

// GetServer returns the record for id, or ErrServerNotFound.
func (r *Registry) GetServer(ctx context.Context, id int64) (*Server, error) {
	srv, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to read server: %w", err)
	}
	if srv == nil {
		return nil, &ServerNotFoundError{ID: id}
	}
	return srv, nil
}

// GetAllServers returns every record ordered by id.
func (r *Registry) GetAllServers(ctx context.Context) ([]*Server, error) {
	servers, err := r.store.List(ctx, storage.ListOptions{OrderBy: storage.OrderByID})
	if err != nil {
		return nil, fmt.Errorf("failed to list servers: %w", err)
	}
	return servers, nil
}

// record emits an audit event when a recorder is configured.
func (r *Registry) record(ctx context.Context, eventType string, serverID int64, fields map[string]string) {
	if r.recorder == nil {
		return
	}
	r.recorder.RecordEvent(ctx, eventType, serverID, fields)
}

// validateServer checks required fields before any mutation.
func validateServer(srv *Server) error {
	if srv == nil {
		return &InvalidServerError{Field: "server", Reason: "cannot be nil"}
	}
	if srv.Name == "" {
		return &InvalidServerError{Field: "name", Reason: "cannot be empty"}
	}
	if srv.URL == "" {
		return &InvalidServerError{Field: "url", Reason: "cannot be empty"}
	}
	// A zero ceiling would count as exhausted for selection yet always win
	// the ratio fallback, so misconfigured servers are rejected up front.
	if !srv.CapacityLimit.IsPositive() {
		return &InvalidServerError{Field: "capacity_limit", Reason: "must be positive"}
	}
	if srv.CurrentUsage.IsNegative() {
		return &InvalidServerError{Field: "current_usage", Reason: "cannot be negative"}
	}
	return nil
}

// lowestRatio returns the server with the lowest usage-to-capacity ratio,
// ties broken by priority then id. Returns nil for an empty slice.
func lowestRatio(servers []*Server) *Server {
	var best *Server
	var bestRatio decimal.Decimal

	for _, srv := range servers {
		ratio := srv.UsageRatio()
		if best == nil {
			best, bestRatio = srv, ratio
			continue
		}
		switch {
		case ratio.LessThan(bestRatio):
			best, bestRatio = srv, ratio
		case ratio.Equal(bestRatio):
			if srv.Priority < best.Priority ||
				(srv.Priority == best.Priority && srv.ID < best.ID) {
				best = srv
			}
		}
	}
	return best
}
