package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"orchard-platform/pkg/logging"
	"orchard-platform/pkg/metrics"
)

// Supported driver names for Config.Driver.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config holds database connection configuration. For SQLite only Path is
// consulted; the remaining connection fields apply to PostgreSQL.
type Config struct {
	Driver          string
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DSN builds the driver-specific connection string.
func (c *Config) DSN() (string, error) {
	switch c.Driver {
	case DriverPostgres:
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host,
			c.Port,
			c.User,
			c.Password,
			c.Database,
			c.SSLMode,
		), nil
	case DriverSQLite:
		if c.Path == "" {
			return "", fmt.Errorf("sqlite driver requires a database path")
		}
		return fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", c.Path), nil
	default:
		return "", fmt.Errorf("unsupported database driver: %q", c.Driver)
	}
}

// Store wraps sqlx.DB with monitoring and metrics. The same Store serves
// PostgreSQL in production and SQLite for single-node deployments; callers
// write queries with ? placeholders and rebind through Rebind.
type Store struct {
	db      *sqlx.DB
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
	config  *Config
}

// NewStore opens a database connection for the configured driver.
func NewStore(cfg *Config, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) (*Store, error) {
	dsn, err := cfg.DSN()
	if err != nil {
		return nil, err
	}

	db, err := sqlx.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	// Configure connection pool. SQLite serializes writes, so cap it at a
	// single connection to avoid SQLITE_BUSY churn.
	if cfg.Driver == DriverSQLite {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info(context.Background(), "[DB_INIT] Database connection established", logging.Fields{
		"driver":         cfg.Driver,
		"host":           cfg.Host,
		"database":       cfg.Database,
		"path":           cfg.Path,
		"max_open_conns": cfg.MaxOpenConns,
	})

	store := &Store{
		db:      db,
		logger:  logger,
		metrics: metricsCollector,
		config:  cfg,
	}

	if cfg.Driver == DriverPostgres {
		go store.monitorConnectionPool()
	}

	return store, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	s.logger.Info(context.Background(), "[DB_CLOSE] Closing database connection", logging.Fields{
		"driver": s.config.Driver,
	})
	return s.db.Close()
}

// DB returns the underlying sqlx.DB instance
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Driver returns the configured driver name.
func (s *Store) Driver() string {
	return s.config.Driver
}

// Rebind translates ? placeholders into the driver's bindvar style.
func (s *Store) Rebind(query string) string {
	return s.db.Rebind(query)
}

// ExecContext executes a command with context and metrics
func (s *Store) ExecContext(ctx context.Context, queryType, query string, args ...interface{}) (sql.Result, error) {
	timer := time.Now()
	defer func() {
		duration := time.Since(timer)
		s.metrics.DBQueryDuration.WithLabelValues(queryType).Observe(duration.Seconds())

		s.logger.Debug(ctx, "[DB_EXEC] Command executed", logging.Fields{
			"query_type":  queryType,
			"duration_ms": duration.Milliseconds(),
		})
	}()

	result, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		s.metrics.RecordDBError("exec_error")
		s.logger.Error(ctx, "[DB_EXEC_ERROR] Command failed", logging.Fields{
			"query_type": queryType,
		}, err)
		return nil, err
	}

	return result, nil
}

// GetContext executes a query that returns a single row
func (s *Store) GetContext(ctx context.Context, queryType string, dest interface{}, query string, args ...interface{}) error {
	timer := time.Now()
	defer func() {
		duration := time.Since(timer)
		s.metrics.DBQueryDuration.WithLabelValues(queryType).Observe(duration.Seconds())
	}()

	err := s.db.GetContext(ctx, dest, s.db.Rebind(query), args...)
	if err != nil && err != sql.ErrNoRows {
		s.metrics.RecordDBError("get_error")
		s.logger.Error(ctx, "[DB_GET_ERROR] Get query failed", logging.Fields{
			"query_type": queryType,
		}, err)
	}

	return err
}

// SelectContext executes a query that returns multiple rows
func (s *Store) SelectContext(ctx context.Context, queryType string, dest interface{}, query string, args ...interface{}) error {
	timer := time.Now()
	defer func() {
		duration := time.Since(timer)
		s.metrics.DBQueryDuration.WithLabelValues(queryType).Observe(duration.Seconds())
	}()

	err := s.db.SelectContext(ctx, dest, s.db.Rebind(query), args...)
	if err != nil {
		s.metrics.RecordDBError("select_error")
		s.logger.Error(ctx, "[DB_SELECT_ERROR] Select query failed", logging.Fields{
			"query_type": queryType,
		}, err)
		return err
	}

	return nil
}

// QueryContext executes a query with context and metrics
func (s *Store) QueryContext(ctx context.Context, queryType, query string, args ...interface{}) (*sqlx.Rows, error) {
	timer := time.Now()
	defer func() {
		duration := time.Since(timer)
		s.metrics.DBQueryDuration.WithLabelValues(queryType).Observe(duration.Seconds())
	}()

	rows, err := s.db.QueryxContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		s.metrics.RecordDBError("query_error")
		s.logger.Error(ctx, "[DB_QUERY_ERROR] Query failed", logging.Fields{
			"query_type": queryType,
		}, err)
		return nil, err
	}

	return rows, nil
}

// BeginTx begins a new transaction
func (s *Store) BeginTx(ctx context.Context) (*sqlx.Tx, error) {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{
		Isolation: sql.LevelSerializable,
	})
	if err != nil {
		s.metrics.RecordDBError("transaction_begin_error")
		s.logger.Error(ctx, "[DB_TX_ERROR] Failed to begin transaction", logging.Fields{}, err)
		return nil, err
	}

	return tx, nil
}

// monitorConnectionPool periodically updates connection pool metrics
func (s *Store) monitorConnectionPool() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		stats := s.db.Stats()

		s.metrics.UpdateDBConnectionPool(
			stats.InUse,
			stats.Idle,
			stats.OpenConnections,
		)

		// Log warning if connection pool is near capacity
		utilization := float64(stats.InUse) / float64(s.config.MaxOpenConns)
		if utilization > 0.8 {
			s.logger.Warn(context.Background(), "[DB_POOL_WARNING] Connection pool utilization high", logging.Fields{
				"in_use":      stats.InUse,
				"idle":        stats.Idle,
				"total":       stats.OpenConnections,
				"max_open":    s.config.MaxOpenConns,
				"utilization": fmt.Sprintf("%.2f%%", utilization*100),
			})
		}
	}
}

// HealthCheck performs a database health check
func (s *Store) HealthCheck(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := s.db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	return nil
}
