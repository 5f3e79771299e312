package storage

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrNotFound is returned by store operations that reference a server id
// that does not exist.
var ErrNotFound = errors.New("server not found")

// Server is one configured upstream payment proxy endpoint.
//
// CapacityLimit and CurrentUsage are monetary values with exact two-decimal
// semantics; they are stored and compared as decimals, never as binary
// floats.
type Server struct {
	// ID is assigned by the store on insert.
	ID int64

	// Name is the human-readable label shown to administrators.
	Name string

	// URL is the base endpoint address of the proxy.
	URL string

	// APIKey and APISecret are the shared-secret credentials consumed by
	// the request-signing layer. The registry stores them opaquely.
	APIKey    string
	APISecret string

	// CapacityLimit is the monetary ceiling this server may process before
	// it is considered exhausted.
	CapacityLimit decimal.Decimal

	// CurrentUsage is the cumulative monetary amount processed through
	// this server since its last reset.
	CurrentUsage decimal.Decimal

	// IsActive is cleared automatically when capacity is exhausted, or
	// manually by an administrator.
	IsActive bool

	// IsSelected marks the server currently preferred for new checkouts.
	// At most one record holds this flag; the registry maintains the
	// invariant by clearing all flags before setting one.
	IsSelected bool

	// Priority orders candidates during selection; lower sorts first.
	Priority int

	// LastUsed is the time of the most recent selection or usage report,
	// used as a tie-breaker to rotate load among equal-priority servers.
	LastUsed time.Time

	// ProductIDPool is an optional comma-separated list of remote product
	// identifiers for the downstream mapping feature. Opaque here.
	ProductIDPool string
}

// Clone returns a deep copy of the server record.
func (s *Server) Clone() *Server {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

// UsageRatio returns CurrentUsage / CapacityLimit, or zero when the
// capacity limit is not positive.
func (s *Server) UsageRatio() decimal.Decimal {
	if !s.CapacityLimit.IsPositive() {
		return decimal.Zero
	}
	return s.CurrentUsage.DivRound(s.CapacityLimit, 8)
}

// Order determines the ordering applied by List.
type Order int

const (
	// OrderByID orders by id ascending.
	OrderByID Order = iota

	// OrderByPriorityID orders by (priority asc, id asc).
	OrderByPriorityID

	// OrderByRotation orders by (priority asc, last_used asc, id asc),
	// the selection ordering that spreads load across equal-priority
	// servers.
	OrderByRotation
)

// ListOptions filters and orders the result of List.
type ListOptions struct {
	// ActiveOnly restricts results to servers with IsActive set.
	ActiveOnly bool

	// ExcludeID omits the given server id from the results when non-zero.
	ExcludeID int64

	// OrderBy selects the result ordering. Defaults to OrderByID.
	OrderBy Order
}

// Store is the persistence abstraction for proxy server records.
//
// Implementations must make each individual call atomic with respect to
// concurrent callers. They are not required to provide cross-call
// transactions; the registry's consistency contract is deliberately relaxed
// (see the registry package documentation).
type Store interface {
	// Insert persists a new record and returns its assigned id.
	Insert(ctx context.Context, srv *Server) (int64, error)

	// Update overwrites the record identified by srv.ID.
	// Returns ErrNotFound if no such record exists.
	Update(ctx context.Context, srv *Server) error

	// Delete removes the record. Returns ErrNotFound if absent.
	Delete(ctx context.Context, id int64) error

	// Get returns the record, or (nil, nil) when absent.
	Get(ctx context.Context, id int64) (*Server, error)

	// List returns records matching the options, in the requested order.
	List(ctx context.Context, opts ListOptions) ([]*Server, error)

	// ClearSelected clears the IsSelected flag on every record.
	ClearSelected(ctx context.Context) error

	// SetSelected clears every IsSelected flag, then sets it on the given
	// record. Returns ErrNotFound if the record does not exist.
	SetSelected(ctx context.Context, id int64) error

	// AddUsage atomically adds amount to the record's CurrentUsage, sets
	// LastUsed to when, and returns the updated record.
	AddUsage(ctx context.Context, id int64, amount decimal.Decimal, when time.Time) (*Server, error)

	// ResetUsage sets the record's CurrentUsage to exactly zero. It never
	// changes the IsActive flag.
	ResetUsage(ctx context.Context, id int64) error

	// SetActive sets the record's IsActive flag without changing any other
	// field, so it cannot clobber usage written by a concurrent caller.
	SetActive(ctx context.Context, id int64, active bool) error

	// Touch sets the record's LastUsed timestamp without changing any
	// other field.
	Touch(ctx context.Context, id int64, when time.Time) error

	// Close releases resources held by the store.
	Close() error
}
