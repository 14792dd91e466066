package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // "sqlite3" driver
	_ "modernc.org/sqlite"          // "sqlite" driver

	"github.com/cylestio/cylestio-monitor/pkg/config"
)

// State is the lifecycle state of a Store.
type State int

const (
	StateUninitialized State = iota
	StateInitialized
	StateVerified
	StateMigrated
	StateReady
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitialized:
		return "initialized"
	case StateVerified:
		return "verified"
	case StateMigrated:
		return "migrated"
	case StateReady:
		return "ready"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// timeLayout stores timestamps as fixed-width UTC text so that string
// comparison orders them chronologically under both drivers.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// FormatTime renders t in the stored timestamp format.
func FormatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// ParseTime parses a stored timestamp. Unparseable values yield the zero time.
func ParseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t.UTC()
}

// Option configures a Store.
type Option func(*Store)

// WithBatchSize sets the number of events deleted per cleanup transaction.
func WithBatchSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Store is the relational event store. Writes are serialized by a mutex;
// with WAL enabled, readers proceed while a write is in flight.
type Store struct {
	db     *sql.DB
	cfg    config.StorageConfig
	logger *slog.Logger

	// writeMu serializes write transactions.
	writeMu sync.Mutex

	// mu guards state and fts.
	mu    sync.RWMutex
	state State
	fts   bool

	batchSize int
	now       func() time.Time
}

// Open opens the database described by cfg. The returned Store is
// uninitialized; call Prepare, or Initialize followed by VerifySchema and
// UpdateSchema, before writing.
func Open(cfg config.StorageConfig, logger *slog.Logger, opts ...Option) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Driver == "" {
		cfg.Driver = config.DefaultStorageDriver
	}
	if cfg.Path == "" {
		cfg.Path = config.DefaultStoragePath
	}

	dsn := buildDSN(cfg)
	db, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, newError("open", err)
	}

	if cfg.Path == ":memory:" {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		if cfg.MaxOpenConns > 0 {
			db.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns > 0 {
			db.SetMaxIdleConns(cfg.MaxIdleConns)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, newError("open", err)
	}

	s := &Store{
		db:        db,
		cfg:       cfg,
		logger:    logger.With("component", "store"),
		state:     StateUninitialized,
		batchSize: config.DefaultRetentionBatchSize,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.logger.Info("event store opened",
		"driver", cfg.Driver,
		"path", cfg.Path,
		"wal_mode", cfg.WALMode,
	)
	return s, nil
}

// buildDSN encodes per-connection pragmas in the driver's DSN syntax, so
// every pooled connection gets foreign keys and the busy timeout.
func buildDSN(cfg config.StorageConfig) string {
	busy := cfg.BusyTimeout.Milliseconds()
	if busy <= 0 {
		busy = config.DefaultStorageBusyTimeout.Milliseconds()
	}
	memory := cfg.Path == ":memory:"

	q := url.Values{}
	switch cfg.Driver {
	case "sqlite3":
		q.Set("_foreign_keys", "on")
		q.Set("_busy_timeout", fmt.Sprint(busy))
		q.Set("_txlock", "immediate")
		if cfg.WALMode && !memory {
			q.Set("_journal_mode", "WAL")
		}
	default:
		q.Add("_pragma", "foreign_keys(1)")
		q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busy))
		q.Set("_txlock", "immediate")
		if cfg.WALMode && !memory {
			q.Add("_pragma", "journal_mode(WAL)")
		}
	}
	return cfg.Path + "?" + q.Encode()
}

// DB returns the underlying handle for read-only query helpers.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.cfg.Path
}

// Driver returns the database/sql driver name.
func (s *Store) Driver() string {
	return s.cfg.Driver
}

// State returns the lifecycle state.
func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Ready reports whether the schema has been verified and writes are
// accepted.
func (s *Store) Ready() bool {
	return s.State() == StateReady
}

// FullText reports whether the FTS5 index is available.
func (s *Store) FullText() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fts
}

func (s *Store) setState(st State) {
	s.mu.Lock()
	prev := s.state
	s.state = st
	s.mu.Unlock()
	if prev != st {
		s.logger.Debug("store state changed", "from", prev.String(), "to", st.String())
	}
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return newError("ping", err)
	}
	return nil
}

// Initialize creates every missing table, index and the full text index.
// Existing tables are left untouched. Safe to call repeatedly.
func (s *Store) Initialize(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.initializeLocked(ctx)
}

func (s *Store) initializeLocked(ctx context.Context) error {
	for _, t := range tables {
		if _, err := s.db.ExecContext(ctx, t.createSQL()); err != nil {
			return newError("create_table", fmt.Errorf("%s: %w", t.Name, err))
		}
	}

	present, err := s.columns(ctx)
	if err != nil {
		return err
	}
	if _, err := s.ensureIndexes(ctx, present); err != nil {
		return err
	}
	s.ensureFTS(ctx)

	if _, err := s.db.ExecContext(ctx, insertSchemaVersion, SchemaVersion, FormatTime(s.now())); err != nil {
		return newError("insert_schema_version", err)
	}

	var version int
	if err := s.db.QueryRowContext(ctx, getSchemaVersion).Scan(&version); err != nil {
		return newError("get_schema_version", err)
	}
	if version > SchemaVersion {
		return &StorageError{
			Op:    "schema_version",
			Kind:  KindStructural,
			Cause: fmt.Errorf("database schema version %d is newer than supported version %d", version, SchemaVersion),
		}
	}

	if s.State() < StateInitialized {
		s.setState(StateInitialized)
	}
	s.logger.Debug("schema initialized", "version", version, "fts", s.FullText())
	return nil
}

// ensureIndexes creates every index whose columns exist and returns the
// names it created.
func (s *Store) ensureIndexes(ctx context.Context, present map[string]map[string]columnInfo) ([]string, error) {
	existing, err := s.indexNames(ctx)
	if err != nil {
		return nil, err
	}

	var created []string
	for _, ix := range indexes {
		cols, ok := present[ix.Table]
		if !ok {
			continue
		}
		complete := true
		for _, c := range ix.Columns {
			if _, ok := cols[c]; !ok {
				complete = false
				break
			}
		}
		if !complete {
			continue
		}
		if _, err := s.db.ExecContext(ctx, ix.createSQL()); err != nil {
			return created, newError("create_index", fmt.Errorf("%s: %w", ix.Name, err))
		}
		if !existing[ix.Name] {
			created = append(created, ix.Name)
		}
	}
	return created, nil
}

// ensureFTS creates the full text index when enabled. Drivers built
// without FTS5 fall back to LIKE search.
func (s *Store) ensureFTS(ctx context.Context) {
	if !s.cfg.FullTextSearch {
		return
	}
	if _, err := s.db.ExecContext(ctx, ftsSchema); err != nil {
		s.logger.Info("full text search unavailable, using LIKE", "error", err)
		s.mu.Lock()
		s.fts = false
		s.mu.Unlock()
		return
	}
	s.mu.Lock()
	s.fts = true
	s.mu.Unlock()
}

// Prepare brings the store to the ready state: it initializes the schema,
// verifies it and applies additive updates when columns or tables are
// missing. A type mismatch leaves the store unready.
func (s *Store) Prepare(ctx context.Context) (SchemaReport, error) {
	if err := s.Initialize(ctx); err != nil {
		return SchemaReport{}, err
	}
	report, err := s.VerifySchema(ctx)
	if err != nil {
		return report, err
	}
	if report.Compatible() {
		return report, nil
	}
	if _, err := s.UpdateSchema(ctx); err != nil {
		return report, err
	}
	report, err = s.VerifySchema(ctx)
	if err != nil {
		return report, err
	}
	if !report.Compatible() {
		return report, &StorageError{Op: "prepare", Kind: KindStructural, Cause: fmt.Errorf("%w: %s", ErrNotReady, report.Summary())}
	}
	return report, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return newError("close", err)
	}
	s.logger.Info("event store closed")
	return nil
}

// ready returns ErrNotReady unless the schema has been verified.
func (s *Store) ready() error {
	if st := s.State(); st != StateReady {
		return &StorageError{Op: "write", Kind: KindStructural, Cause: fmt.Errorf("%w (state %s)", ErrNotReady, st)}
	}
	return nil
}

// nullString maps "" to NULL.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
