// Package pool owns the bounded MySQL connection pool: scoped acquisition,
// session setup, transaction lifecycle and retry of transient failures.
package pool

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/querygate/querygate/internal/config"
	"github.com/querygate/querygate/internal/observability"
)

const (
	defaultRetries      = 3
	defaultRetryBackoff = 100 * time.Millisecond
)

// Querier is satisfied by both *sql.Conn and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Opener builds a fresh *sql.DB. It is used to recreate the pool after a
// protocol failure.
type Opener func(ctx context.Context) (*sql.DB, error)

type Options struct {
	AcquireTimeout    time.Duration
	Retries           int
	RetryBackoff      time.Duration
	SessionStatements []string
	DSN               string
	Opener            Opener
	Logger            *slog.Logger
}

// CallOptions tune one WithConnection call. Retries of zero means the
// manager default; NoRetry disables retrying altogether.
type CallOptions struct {
	ReadOnly bool
	Retries  int
	NoRetry  bool
}

type Manager struct {
	mu   sync.RWMutex
	db   *sql.DB
	opts Options

	logger *slog.Logger
	closed atomic.Bool

	acquisitions    atomic.Int64
	acquireFailures atomic.Int64
	retries         atomic.Int64
	recreations     atomic.Int64
}

func New(db *sql.DB, opts Options) *Manager {
	if opts.Retries <= 0 {
		opts.Retries = defaultRetries
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = defaultRetryBackoff
	}
	logger := opts.Logger
	if logger == nil {
		logger = observability.DiscardLogger()
	}
	return &Manager{db: db, opts: opts, logger: logger}
}

// DSN renders the driver DSN for cfg. Charset and timeouts are applied per
// session on acquisition.
func DSN(cfg config.StoreConfig) string {
	mc := mysql.NewConfig()
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	mc.DBName = cfg.Database
	mc.Timeout = cfg.ConnectTimeout
	mc.ParseTime = true
	mc.Loc = time.UTC
	if cfg.TLS != "" && cfg.TLS != "false" {
		mc.TLSConfig = cfg.TLS
	}
	return mc.FormatDSN()
}

// SessionStatements returns the statements run on every acquired connection.
func SessionStatements(cfg config.StoreConfig) []string {
	var stmts []string
	if cfg.WaitTimeout > 0 {
		stmts = append(stmts, fmt.Sprintf("SET SESSION wait_timeout = %d", int(cfg.WaitTimeout.Seconds())))
	}
	if cfg.Charset != "" {
		stmts = append(stmts, "SET NAMES "+cfg.Charset)
	}
	if cfg.QueryTimeout > 0 {
		stmts = append(stmts, fmt.Sprintf("SET SESSION max_execution_time = %d", cfg.QueryTimeout.Milliseconds()))
	}
	return stmts
}

func openDB(ctx context.Context, cfg config.StoreConfig) (*sql.DB, error) {
	db, err := sql.Open("mysql", DSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("open store db: %w", err)
	}
	db.SetMaxOpenConns(cfg.PoolSize)
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping store db: %w", err)
	}
	return db, nil
}

// Open connects to the store described by cfg and verifies connectivity.
func Open(ctx context.Context, cfg config.StoreConfig, retries int, backoff time.Duration, logger *slog.Logger) (*Manager, error) {
	if cfg.PoolSize <= 0 {
		return nil, fmt.Errorf("store pool size must be > 0")
	}
	db, err := openDB(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return New(db, Options{
		AcquireTimeout:    cfg.AcquireTimeout,
		Retries:           retries,
		RetryBackoff:      backoff,
		SessionStatements: SessionStatements(cfg),
		DSN:               DSN(cfg),
		Opener: func(ctx context.Context) (*sql.DB, error) {
			return openDB(ctx, cfg)
		},
		Logger: logger,
	}), nil
}

func (m *Manager) DB() *sql.DB {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.db
}

func (m *Manager) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	return m.DB().Close()
}

// WithConnection acquires a pooled connection, prepares the session and runs
// work on it inside a transaction. Writes commit on success; read-only calls
// always roll back. Any error or panic rolls back as well. The connection
// is released on every exit path. Transient failures are retried with
// linearly increasing backoff; an acquisition timeout is returned to the
// caller without retrying.
func (m *Manager) WithConnection(ctx context.Context, opts CallOptions, work func(ctx context.Context, q Querier) error) error {
	retries := m.opts.Retries
	if opts.Retries > 0 {
		retries = opts.Retries
	}
	if opts.NoRetry {
		retries = 0
	}

	for attempt := 0; ; attempt++ {
		err := m.runOnce(ctx, opts.ReadOnly, work)
		if err == nil {
			return nil
		}
		if IsProtocolFailure(err) {
			m.recreate(ctx, err)
			return err
		}
		code, transient := TransientCode(err)
		if !transient || errors.Is(err, ErrAcquireTimeout) || attempt >= retries {
			return err
		}
		m.retries.Add(1)
		observability.IncrementPoolRetry(code)
		m.logger.WarnContext(ctx, "retrying pooled operation",
			slog.String("code", code),
			slog.Int("attempt", attempt+1),
			slog.Int("max_retries", retries),
			slog.String("error", err.Error()),
		)
		if sleepErr := sleepCtx(ctx, m.opts.RetryBackoff*time.Duration(attempt+1)); sleepErr != nil {
			return fmt.Errorf("context cancelled during retry: %w", errors.Join(sleepErr, err))
		}
	}
}

func (m *Manager) runOnce(ctx context.Context, readOnly bool, work func(ctx context.Context, q Querier) error) error {
	conn, err := m.acquire(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	for _, stmt := range m.opts.SessionStatements {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("prepare session: %w", err)
		}
	}

	// Reads run in a READ ONLY transaction so that the server refuses any
	// write that slips past statement classification. It is rolled back.
	tx, err := conn.BeginTx(ctx, &sql.TxOptions{ReadOnly: readOnly})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := work(ctx, tx); err != nil {
		return err
	}
	if readOnly {
		return nil
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	committed = true
	return nil
}

func (m *Manager) acquire(ctx context.Context) (*sql.Conn, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}
	acquireCtx, cancel := ctx, context.CancelFunc(func() {})
	if m.opts.AcquireTimeout > 0 {
		acquireCtx, cancel = context.WithTimeout(ctx, m.opts.AcquireTimeout)
	}
	defer cancel()

	start := time.Now()
	conn, err := m.DB().Conn(acquireCtx)
	waited := time.Since(start)
	observability.ObservePoolAcquire(err == nil, waited)
	if err != nil {
		m.acquireFailures.Add(1)
		if ctx.Err() == nil && errors.Is(acquireCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s", ErrAcquireTimeout, m.opts.AcquireTimeout)
		}
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	m.acquisitions.Add(1)
	return conn, nil
}

// recreate swaps in a freshly opened pool. Connections checked out of the old
// pool are closed as they are released.
func (m *Manager) recreate(ctx context.Context, cause error) {
	if m.opts.Opener == nil {
		m.logger.ErrorContext(ctx, "protocol failure without opener; pool not recreated", slog.String("error", cause.Error()))
		return
	}
	fresh, err := m.opts.Opener(ctx)
	if err != nil {
		m.logger.ErrorContext(ctx, "recreate pool failed", slog.String("error", err.Error()), slog.String("cause", cause.Error()))
		return
	}
	m.mu.Lock()
	old := m.db
	m.db = fresh
	m.mu.Unlock()
	_ = old.Close()

	m.recreations.Add(1)
	observability.IncrementPoolRecreation()
	m.logger.ErrorContext(ctx, "pool recreated after protocol failure", slog.String("cause", cause.Error()))
}

// Ping is the connectivity probe.
func (m *Manager) Ping(ctx context.Context) error {
	if m.closed.Load() {
		return ErrClosed
	}
	if err := m.DB().PingContext(ctx); err != nil {
		return fmt.Errorf("ping store db: %w", err)
	}
	return nil
}

type Status struct {
	DSN             string `json:"dsn,omitempty"`
	MaxOpen         int    `json:"max_open"`
	Open            int    `json:"open"`
	InUse           int    `json:"in_use"`
	Idle            int    `json:"idle"`
	WaitCount       int64  `json:"wait_count"`
	WaitDurationMs  int64  `json:"wait_duration_ms"`
	Acquisitions    int64  `json:"acquisitions"`
	AcquireFailures int64  `json:"acquire_failures"`
	Retries         int64  `json:"retries"`
	Recreations     int64  `json:"recreations"`
}

// Status reports pool occupancy and counters. It does not touch the store.
func (m *Manager) Status() Status {
	stats := m.DB().Stats()
	return Status{
		DSN:             observability.MaskDSN(m.opts.DSN),
		MaxOpen:         stats.MaxOpenConnections,
		Open:            stats.OpenConnections,
		InUse:           stats.InUse,
		Idle:            stats.Idle,
		WaitCount:       stats.WaitCount,
		WaitDurationMs:  stats.WaitDuration.Milliseconds(),
		Acquisitions:    m.acquisitions.Load(),
		AcquireFailures: m.acquireFailures.Load(),
		Retries:         m.retries.Load(),
		Recreations:     m.recreations.Load(),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
