package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"

	"github.com/boolearner/boolearner/pkg/engine"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	// Every connection to :memory: opens a fresh database
	if isMemoryPath(cfg.Path) {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{
		cfg: cfg,
	}, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	// Pragmas are applied by the driver to every pooled connection
	dsn := fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate", s.cfg.Path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	// Create migration source from embedded FS
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	// Create database driver
	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	// Create migration instance
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	// Run migrations
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// SchemaVersion reports the applied migration version and whether the last
// migration left the schema dirty.
func (s *SQLiteStore) SchemaVersion(ctx context.Context) (uint, bool, error) {
	if s.db == nil {
		return 0, false, fmt.Errorf("database not initialized")
	}

	var (
		version int64
		dirty   bool
	)
	err := s.db.QueryRowContext(ctx, `SELECT version, dirty FROM schema_migrations LIMIT 1`).Scan(&version, &dirty)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read schema version: %w", err)
	}

	return uint(version), dirty, nil
}

// withTx runs fn in a transaction, committing on success.
func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ListResources returns every resource in insertion order
func (s *SQLiteStore) ListResources(ctx context.Context) ([]engine.Resource, error) {
	query := `
		SELECT id, name, description, completed, created_at, updated_at
		FROM resources
		ORDER BY rowid ASC
	`

	resources, err := scanResources(ctx, s.db, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list resources: %w", err)
	}

	if err := attachDependencies(ctx, s.db, resources, false); err != nil {
		return nil, err
	}

	return resources, nil
}

// GetResource retrieves a resource by ID
func (s *SQLiteStore) GetResource(ctx context.Context, id string) (*engine.Resource, error) {
	return getResource(ctx, s.db, id)
}

// SearchResources returns resources whose name or description contains query.
// Matching is case sensitive; an empty query matches everything.
func (s *SQLiteStore) SearchResources(ctx context.Context, query string) ([]engine.Resource, error) {
	stmt := `
		SELECT id, name, description, completed, created_at, updated_at
		FROM resources
		WHERE ? = ''
		   OR instr(name, ?) > 0
		   OR instr(COALESCE(description, ''), ?) > 0
		ORDER BY rowid ASC
	`

	resources, err := scanResources(ctx, s.db, stmt, query, query, query)
	if err != nil {
		return nil, fmt.Errorf("failed to search resources: %w", err)
	}

	if err := attachDependencies(ctx, s.db, resources, true); err != nil {
		return nil, err
	}

	return resources, nil
}

// CreateResource inserts a resource and its dependency list, assigning the ID
// and timestamps.
func (s *SQLiteStore) CreateResource(ctx context.Context, r *engine.Resource) error {
	now := time.Now().UTC()
	id := uuid.New().String()

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		query := `
			INSERT INTO resources (id, name, description, completed, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`
		if _, err := tx.ExecContext(ctx, query, id, r.Name, r.Description, r.Completed, now, now); err != nil {
			return fmt.Errorf("failed to create resource: %w", err)
		}

		return insertDependencies(ctx, tx, id, r.Dependencies)
	})
	if err != nil {
		return err
	}

	r.ID = id
	r.CreatedAt = now
	r.UpdatedAt = now
	if r.Dependencies == nil {
		r.Dependencies = []string{}
	}
	return nil
}

// UpdateResource applies the non-nil fields of changes and returns the stored result
func (s *SQLiteStore) UpdateResource(ctx context.Context, id string, changes engine.ResourceChanges) (*engine.Resource, error) {
	var updated *engine.Resource

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		sets := []string{"updated_at = ?"}
		args := []any{time.Now().UTC()}

		if changes.Name != nil {
			sets = append(sets, "name = ?")
			args = append(args, *changes.Name)
		}
		if changes.Description != nil {
			sets = append(sets, "description = ?")
			args = append(args, *changes.Description)
		}
		if changes.Completed != nil {
			sets = append(sets, "completed = ?")
			args = append(args, *changes.Completed)
		}

		query := fmt.Sprintf(`UPDATE resources SET %s WHERE id = ?`, strings.Join(sets, ", "))
		result, err := tx.ExecContext(ctx, query, append(args, id)...)
		if err != nil {
			return fmt.Errorf("failed to update resource: %w", err)
		}

		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}

		if rows == 0 {
			return &engine.NotFoundError{ID: id}
		}

		if changes.Dependencies != nil {
			if _, err := tx.ExecContext(ctx, `DELETE FROM resource_dependencies WHERE resource_id = ?`, id); err != nil {
				return fmt.Errorf("failed to clear dependencies: %w", err)
			}
			if err := insertDependencies(ctx, tx, id, *changes.Dependencies); err != nil {
				return err
			}
		}

		updated, err = getResource(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	return updated, nil
}

// DeleteResources removes the listed resources and their dependency rows in one
// transaction. References held by other resources are left in place.
func (s *SQLiteStore) DeleteResources(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	placeholders, args := inClause(ids)
	var removed int64

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		query := fmt.Sprintf(`DELETE FROM resource_dependencies WHERE resource_id IN (%s)`, placeholders)
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to delete dependencies: %w", err)
		}

		query = fmt.Sprintf(`DELETE FROM resources WHERE id IN (%s)`, placeholders)
		result, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to delete resources: %w", err)
		}

		removed, err = result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return int(removed), nil
}

// CreateAuditEntry creates a new audit log entry
func (s *SQLiteStore) CreateAuditEntry(ctx context.Context, entry *AuditEntry) error {
	query := `
		INSERT INTO audit (action, actor, target_id, details, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	result, err := s.db.ExecContext(ctx, query,
		entry.Action,
		entry.Actor,
		entry.TargetID,
		entry.Details,
		entry.Timestamp,
	)

	if err != nil {
		return fmt.Errorf("failed to create audit entry: %w", err)
	}

	// Get the auto-generated ID
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get audit entry ID: %w", err)
	}

	entry.ID = id
	return nil
}

// ListAuditEntries lists audit entries, newest first, with an optional action filter
func (s *SQLiteStore) ListAuditEntries(ctx context.Context, action *string, limit, offset int) ([]*AuditEntry, error) {
	query := `
		SELECT id, action, actor, target_id, details, timestamp
		FROM audit
		WHERE (? IS NULL OR action = ?)
		ORDER BY id DESC
		LIMIT ? OFFSET ?
	`

	// SQLite treats a negative limit as unbounded
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, query, action, action, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	entries := []*AuditEntry{}
	for rows.Next() {
		entry := &AuditEntry{}
		err := rows.Scan(
			&entry.ID,
			&entry.Action,
			&entry.Actor,
			&entry.TargetID,
			&entry.Details,
			&entry.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit entries: %w", err)
	}

	return entries, nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}

func getResource(ctx context.Context, q querier, id string) (*engine.Resource, error) {
	query := `
		SELECT id, name, description, completed, created_at, updated_at
		FROM resources
		WHERE id = ?
	`

	r := &engine.Resource{}
	err := q.QueryRowContext(ctx, query, id).Scan(
		&r.ID,
		&r.Name,
		&r.Description,
		&r.Completed,
		&r.CreatedAt,
		&r.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, &engine.NotFoundError{ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get resource: %w", err)
	}

	deps, err := loadDependencies(ctx, q, []string{id})
	if err != nil {
		return nil, err
	}
	r.Dependencies = deps[id]
	if r.Dependencies == nil {
		r.Dependencies = []string{}
	}

	return r, nil
}

func scanResources(ctx context.Context, q querier, query string, args ...any) ([]engine.Resource, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	resources := []engine.Resource{}
	for rows.Next() {
		var r engine.Resource
		err := rows.Scan(
			&r.ID,
			&r.Name,
			&r.Description,
			&r.Completed,
			&r.CreatedAt,
			&r.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan resource: %w", err)
		}
		r.Dependencies = []string{}
		resources = append(resources, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating resources: %w", err)
	}

	return resources, nil
}

// attachDependencies fills in the dependency lists of resources. When filtered
// is false every dependency row is read in one pass.
func attachDependencies(ctx context.Context, q querier, resources []engine.Resource, filtered bool) error {
	if len(resources) == 0 {
		return nil
	}

	var ids []string
	if filtered {
		ids = make([]string, len(resources))
		for i, r := range resources {
			ids[i] = r.ID
		}
	}

	deps, err := loadDependencies(ctx, q, ids)
	if err != nil {
		return err
	}

	for i := range resources {
		if d, ok := deps[resources[i].ID]; ok {
			resources[i].Dependencies = d
		}
	}
	return nil
}

// loadDependencies returns dependency IDs keyed by resource ID, in declaration
// order. A nil ids slice loads every row.
func loadDependencies(ctx context.Context, q querier, ids []string) (map[string][]string, error) {
	query := `SELECT resource_id, dependency_id FROM resource_dependencies`
	var args []any
	if ids != nil {
		var placeholders string
		placeholders, args = inClause(ids)
		query += fmt.Sprintf(` WHERE resource_id IN (%s)`, placeholders)
	}
	query += ` ORDER BY resource_id, position`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load dependencies: %w", err)
	}
	defer rows.Close()

	deps := make(map[string][]string)
	for rows.Next() {
		var resourceID, dependencyID string
		if err := rows.Scan(&resourceID, &dependencyID); err != nil {
			return nil, fmt.Errorf("failed to scan dependency: %w", err)
		}
		deps[resourceID] = append(deps[resourceID], dependencyID)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dependencies: %w", err)
	}

	return deps, nil
}

func insertDependencies(ctx context.Context, tx *sql.Tx, resourceID string, deps []string) error {
	query := `
		INSERT INTO resource_dependencies (resource_id, position, dependency_id)
		VALUES (?, ?, ?)
	`

	for i, dep := range deps {
		if _, err := tx.ExecContext(ctx, query, resourceID, i, dep); err != nil {
			return fmt.Errorf("failed to store dependency %s: %w", dep, err)
		}
	}
	return nil
}

func inClause(ids []string) (string, []any) {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", "), args
}

func isMemoryPath(path string) bool {
	return path == ":memory:" || strings.HasPrefix(path, "file::memory:")
}
