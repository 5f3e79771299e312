package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite" // SQLite driver
)

// SQLite implements Store using a SQLite database file.
//
// The backend uses WAL journaling with a background checkpoint loop and a
// single writer connection, which is the concurrency model SQLite supports
// best. Monetary columns are stored as canonical decimal strings so that
// values round-trip exactly.
type SQLite struct {
	db                 *sql.DB
	dbPath             string
	checkpointInterval time.Duration
	done               chan struct{}
	mu                 sync.Mutex
	closeOnce          sync.Once

	insertStmt        *sql.Stmt
	updateStmt        *sql.Stmt
	deleteStmt        *sql.Stmt
	getStmt           *sql.Stmt
	clearSelectedStmt *sql.Stmt
	setSelectedStmt   *sql.Stmt
	resetUsageStmt    *sql.Stmt
}

// SQLiteConfig configures the SQLite backend.
type SQLiteConfig struct {
	// DBPath is the path to the SQLite database file.
	DBPath string

	// CheckpointInterval is how often to checkpoint the WAL.
	// Default: 5 minutes
	CheckpointInterval time.Duration

	// BusyTimeout is how long to wait for locks before failing.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// NewSQLite creates a SQLite store with default settings.
func NewSQLite(dbPath string) (*SQLite, error) {
	return NewSQLiteWithConfig(SQLiteConfig{DBPath: dbPath})
}

// NewSQLiteWithConfig creates a SQLite store with custom configuration.
func NewSQLiteWithConfig(cfg SQLiteConfig) (*SQLite, error) {
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("db path cannot be empty")
	}
	if cfg.CheckpointInterval == 0 {
		cfg.CheckpointInterval = 5 * time.Minute
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=%d&_synchronous=NORMAL",
		cfg.DBPath, int(cfg.BusyTimeout.Milliseconds()))

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	store := &SQLite{
		db:                 db,
		dbPath:             cfg.DBPath,
		checkpointInterval: cfg.CheckpointInterval,
		done:               make(chan struct{}),
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if err := store.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	go store.checkpointLoop()

	return store, nil
}

// initSchema creates the database schema if it doesn't exist.
func (s *SQLite) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS proxy_servers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		url TEXT NOT NULL,
		api_key TEXT NOT NULL DEFAULT '',
		api_secret TEXT NOT NULL DEFAULT '',
		capacity_limit TEXT NOT NULL DEFAULT '0',
		current_usage TEXT NOT NULL DEFAULT '0',
		is_active INTEGER NOT NULL DEFAULT 1,
		is_selected INTEGER NOT NULL DEFAULT 0,
		priority INTEGER NOT NULL DEFAULT 0,
		last_used INTEGER NOT NULL DEFAULT 0,
		product_id_pool TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_proxy_servers_active ON proxy_servers(is_active);
	CREATE INDEX IF NOT EXISTS idx_proxy_servers_selection ON proxy_servers(priority, last_used, id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// prepareStatements prepares SQL statements for reuse.
func (s *SQLite) prepareStatements() error {
	var err error

	s.insertStmt, err = s.db.Prepare(`
		INSERT INTO proxy_servers
			(name, url, api_key, api_secret, capacity_limit, current_usage,
			 is_active, is_selected, priority, last_used, product_id_pool)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert statement: %w", err)
	}

	s.updateStmt, err = s.db.Prepare(`
		UPDATE proxy_servers SET
			name = ?, url = ?, api_key = ?, api_secret = ?,
			capacity_limit = ?, current_usage = ?, is_active = ?,
			is_selected = ?, priority = ?, last_used = ?, product_id_pool = ?
		WHERE id = ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare update statement: %w", err)
	}

	s.deleteStmt, err = s.db.Prepare(`DELETE FROM proxy_servers WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare delete statement: %w", err)
	}

	s.getStmt, err = s.db.Prepare(selectColumns + ` WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare get statement: %w", err)
	}

	s.clearSelectedStmt, err = s.db.Prepare(`UPDATE proxy_servers SET is_selected = 0 WHERE is_selected = 1`)
	if err != nil {
		return fmt.Errorf("failed to prepare clear-selected statement: %w", err)
	}

	s.setSelectedStmt, err = s.db.Prepare(`UPDATE proxy_servers SET is_selected = 1 WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare set-selected statement: %w", err)
	}

	s.resetUsageStmt, err = s.db.Prepare(`UPDATE proxy_servers SET current_usage = '0' WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare reset-usage statement: %w", err)
	}

	return nil
}

const selectColumns = `
	SELECT id, name, url, api_key, api_secret, capacity_limit, current_usage,
	       is_active, is_selected, priority, last_used, product_id_pool
	FROM proxy_servers`

// Insert persists a new record and returns its assigned id.
func (s *SQLite) Insert(ctx context.Context, srv *Server) (int64, error) {
	if srv == nil {
		return 0, fmt.Errorf("server cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.insertStmt.ExecContext(ctx,
		srv.Name,
		srv.URL,
		srv.APIKey,
		srv.APISecret,
		srv.CapacityLimit.String(),
		srv.CurrentUsage.String(),
		boolToInt(srv.IsActive),
		boolToInt(srv.IsSelected),
		srv.Priority,
		timeToUnixNano(srv.LastUsed),
		srv.ProductIDPool,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert server: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read inserted id: %w", err)
	}
	return id, nil
}

// Update overwrites the record identified by srv.ID.
func (s *SQLite) Update(ctx context.Context, srv *Server) error {
	if srv == nil {
		return fmt.Errorf("server cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.updateStmt.ExecContext(ctx,
		srv.Name,
		srv.URL,
		srv.APIKey,
		srv.APISecret,
		srv.CapacityLimit.String(),
		srv.CurrentUsage.String(),
		boolToInt(srv.IsActive),
		boolToInt(srv.IsSelected),
		srv.Priority,
		timeToUnixNano(srv.LastUsed),
		srv.ProductIDPool,
		srv.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update server: %w", err)
	}

	return affectedOrNotFound(result)
}

// Delete removes the record.
func (s *SQLite) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.deleteStmt.ExecContext(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to delete server: %w", err)
	}
	return affectedOrNotFound(result)
}

// Get returns the record, or (nil, nil) when absent.
func (s *SQLite) Get(ctx context.Context, id int64) (*Server, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.getLocked(ctx, id)
}

// getLocked reads a single row. Caller must hold the mutex.
func (s *SQLite) getLocked(ctx context.Context, id int64) (*Server, error) {
	row := s.getStmt.QueryRowContext(ctx, id)
	srv, err := scanServer(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load server: %w", err)
	}
	return srv, nil
}

// List returns records matching the options, in the requested order.
func (s *SQLite) List(ctx context.Context, opts ListOptions) ([]*Server, error) {
	query := selectColumns
	var args []any
	where := ""

	if opts.ActiveOnly {
		where = " WHERE is_active = 1"
	}
	if opts.ExcludeID != 0 {
		if where == "" {
			where = " WHERE id != ?"
		} else {
			where += " AND id != ?"
		}
		args = append(args, opts.ExcludeID)
	}
	query += where

	switch opts.OrderBy {
	case OrderByPriorityID:
		query += " ORDER BY priority ASC, id ASC"
	case OrderByRotation:
		query += " ORDER BY priority ASC, last_used ASC, id ASC"
	default:
		query += " ORDER BY id ASC"
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list servers: %w", err)
	}
	defer rows.Close()

	var servers []*Server
	for rows.Next() {
		srv, err := scanServer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		servers = append(servers, srv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return servers, nil
}

// ClearSelected clears the IsSelected flag on every record.
func (s *SQLite) ClearSelected(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.clearSelectedStmt.ExecContext(ctx); err != nil {
		return fmt.Errorf("failed to clear selection: %w", err)
	}
	return nil
}

// SetSelected clears every IsSelected flag, then sets it on the given record.
// Both updates run inside one transaction so a reader never observes two
// selected rows.
func (s *SQLite) SetSelected(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.StmtContext(ctx, s.clearSelectedStmt).ExecContext(ctx); err != nil {
		return fmt.Errorf("failed to clear selection: %w", err)
	}

	result, err := tx.StmtContext(ctx, s.setSelectedStmt).ExecContext(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to set selection: %w", err)
	}
	if err := affectedOrNotFound(result); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit selection: %w", err)
	}
	return nil
}

// AddUsage atomically adds amount to the record's usage and stamps LastUsed.
//
// The read-add-write runs under the store mutex and the single writer
// connection, so concurrent AddUsage calls against the same record never
// lose increments.
func (s *SQLite) AddUsage(ctx context.Context, id int64, amount decimal.Decimal, when time.Time) (*Server, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	srv, err := s.getLocked(ctx, id)
	if err != nil {
		return nil, err
	}
	if srv == nil {
		return nil, ErrNotFound
	}

	srv.CurrentUsage = srv.CurrentUsage.Add(amount)
	srv.LastUsed = when

	_, err = s.db.ExecContext(ctx,
		`UPDATE proxy_servers SET current_usage = ?, last_used = ? WHERE id = ?`,
		srv.CurrentUsage.String(), timeToUnixNano(srv.LastUsed), id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to record usage: %w", err)
	}

	return srv, nil
}

// ResetUsage sets the record's CurrentUsage to exactly zero.
func (s *SQLite) ResetUsage(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.resetUsageStmt.ExecContext(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to reset usage: %w", err)
	}
	return affectedOrNotFound(result)
}

// SetActive sets the record's IsActive flag.
func (s *SQLite) SetActive(ctx context.Context, id int64, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.ExecContext(ctx,
		`UPDATE proxy_servers SET is_active = ? WHERE id = ?`,
		boolToInt(active), id,
	)
	if err != nil {
		return fmt.Errorf("failed to set active flag: %w", err)
	}
	return affectedOrNotFound(result)
}

// Touch sets the record's LastUsed timestamp.
func (s *SQLite) Touch(ctx context.Context, id int64, when time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.ExecContext(ctx,
		`UPDATE proxy_servers SET last_used = ? WHERE id = ?`,
		timeToUnixNano(when), id,
	)
	if err != nil {
		return fmt.Errorf("failed to touch server: %w", err)
	}
	return affectedOrNotFound(result)
}

// Close releases any resources held by the store.
// Close is idempotent and safe to call multiple times.
func (s *SQLite) Close() error {
	var closeErr error

	s.closeOnce.Do(func() {
		close(s.done)

		for _, stmt := range []*sql.Stmt{
			s.insertStmt, s.updateStmt, s.deleteStmt, s.getStmt,
			s.clearSelectedStmt, s.setSelectedStmt, s.resetUsageStmt,
		} {
			if stmt != nil {
				stmt.Close()
			}
		}

		if s.db != nil {
			_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
			closeErr = s.db.Close()
		}
	})

	return closeErr
}

// checkpointLoop runs periodic WAL checkpoints.
func (s *SQLite) checkpointLoop() {
	ticker := time.NewTicker(s.checkpointInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_, _ = s.db.Exec("PRAGMA wal_checkpoint(PASSIVE)")
		case <-s.done:
			return
		}
	}
}

// scanner abstracts *sql.Row and *sql.Rows for scanServer.
type scanner interface {
	Scan(dest ...any) error
}

// scanServer reads one proxy_servers row into a Server.
func scanServer(row scanner) (*Server, error) {
	var (
		srv          Server
		capacityText string
		usageText    string
		isActive     int
		isSelected   int
		lastUsed     int64
	)

	err := row.Scan(
		&srv.ID,
		&srv.Name,
		&srv.URL,
		&srv.APIKey,
		&srv.APISecret,
		&capacityText,
		&usageText,
		&isActive,
		&isSelected,
		&srv.Priority,
		&lastUsed,
		&srv.ProductIDPool,
	)
	if err != nil {
		return nil, err
	}

	srv.CapacityLimit, err = decimal.NewFromString(capacityText)
	if err != nil {
		return nil, fmt.Errorf("invalid capacity_limit %q: %w", capacityText, err)
	}
	srv.CurrentUsage, err = decimal.NewFromString(usageText)
	if err != nil {
		return nil, fmt.Errorf("invalid current_usage %q: %w", usageText, err)
	}

	srv.IsActive = isActive != 0
	srv.IsSelected = isSelected != 0
	if lastUsed != 0 {
		srv.LastUsed = time.Unix(0, lastUsed)
	}

	return &srv, nil
}

// affectedOrNotFound maps a zero-row update to ErrNotFound.
func affectedOrNotFound(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func timeToUnixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}
