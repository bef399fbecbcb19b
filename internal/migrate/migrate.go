// Package migrate applies versioned SQL files from an fs.FS.
//
// Files are named NNNN_name.up.sql / NNNN_name.down.sql and applied in name
// order. Each file runs in its own transaction together with its bookkeeping
// row, so a failed migration leaves no trace.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"shopfront.io/internal/obs"
)

const defaultTable = "schema_migrations"

var (
	// ErrNothingApplied is returned by Down when no migration is recorded.
	ErrNothingApplied = errors.New("no migrations applied")

	tableName = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)
)

// Manager executes migrations against a database handle.
type Manager struct {
	db     *sql.DB
	files  fs.FS
	table  string
	now    func() time.Time
	logger *zap.Logger
}

// Option configures Manager.
type Option func(*Manager)

// WithTable overrides the bookkeeping table. Invalid identifiers are ignored.
func WithTable(name string) Option {
	return func(m *Manager) {
		if tableName.MatchString(name) {
			m.table = name
		}
	}
}

// WithLogger sets the logger used to report applied migrations.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewManager constructs a Manager reading migrations from files.
func NewManager(db *sql.DB, files fs.FS, opts ...Option) *Manager {
	m := &Manager{
		db:     db,
		files:  files,
		table:  defaultTable,
		now:    func() time.Time { return time.Now().UTC() },
		logger: obs.Logger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Status describes one migration file.
type Status struct {
	Name      string
	Applied   bool
	AppliedAt time.Time
}

// Up applies every pending migration and returns the names applied.
func (m *Manager) Up(ctx context.Context) ([]string, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}
	names, err := m.list(".up.sql")
	if err != nil {
		return nil, err
	}
	var done []string
	for _, name := range names {
		if _, ok := applied[name]; ok {
			continue
		}
		record := fmt.Sprintf(`insert into %s (name, applied_at) values ($1, $2)`, m.table)
		if err := m.exec(ctx, name, record, name, m.now()); err != nil {
			return done, fmt.Errorf("apply migration %s: %w", name, err)
		}
		m.logger.Info("migration applied", zap.String("name", name))
		done = append(done, name)
	}
	return done, nil
}

// Down rolls back the most recently applied migration and returns its name.
func (m *Manager) Down(ctx context.Context) (string, error) {
	if err := m.ensureTable(ctx); err != nil {
		return "", err
	}
	history, err := m.history(ctx)
	if err != nil {
		return "", err
	}
	if len(history) == 0 {
		return "", ErrNothingApplied
	}
	last := history[len(history)-1].Name
	down := strings.TrimSuffix(last, ".up.sql") + ".down.sql"
	if _, err := fs.Stat(m.files, down); err != nil {
		return "", fmt.Errorf("missing down migration for %s", last)
	}
	record := fmt.Sprintf(`delete from %s where name = $1`, m.table)
	if err := m.exec(ctx, down, record, last); err != nil {
		return "", fmt.Errorf("rollback migration %s: %w", last, err)
	}
	m.logger.Info("migration rolled back", zap.String("name", last))
	return last, nil
}

// Status lists every known migration with its applied state.
func (m *Manager) Status(ctx context.Context) ([]Status, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}
	names, err := m.list(".up.sql")
	if err != nil {
		return nil, err
	}
	out := make([]Status, 0, len(names))
	for _, name := range names {
		at, ok := applied[name]
		out = append(out, Status{Name: name, Applied: ok, AppliedAt: at})
	}
	return out, nil
}

func (m *Manager) ensureTable(ctx context.Context) error {
	ddl := fmt.Sprintf(`create table if not exists %s (
		name text primary key,
		applied_at timestamptz not null default now()
	)`, m.table)
	_, err := m.db.ExecContext(ctx, ddl)
	return err
}

func (m *Manager) exec(ctx context.Context, file, record string, args ...any) error {
	body, err := fs.ReadFile(m.files, file)
	if err != nil {
		return err
	}
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range splitStatements(string(body)) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, record, args...); err != nil {
		return err
	}
	return tx.Commit()
}

func (m *Manager) applied(ctx context.Context) (map[string]time.Time, error) {
	history, err := m.history(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]time.Time, len(history))
	for _, s := range history {
		out[s.Name] = s.AppliedAt
	}
	return out, nil
}

func (m *Manager) history(ctx context.Context) ([]Status, error) {
	rows, err := m.db.QueryContext(ctx, fmt.Sprintf(`select name, applied_at from %s order by name asc`, m.table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Status
	for rows.Next() {
		s := Status{Applied: true}
		if err := rows.Scan(&s.Name, &s.AppliedAt); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

func (m *Manager) list(suffix string) ([]string, error) {
	entries, err := fs.ReadDir(m.files, ".")
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), suffix) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// splitStatements splits on semicolons outside single-quoted strings and
// drops empty statements.
func splitStatements(body string) []string {
	var (
		stmts    []string
		current  strings.Builder
		inString bool
	)
	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			stmts = append(stmts, s)
		}
		current.Reset()
	}
	for _, r := range body {
		switch {
		case r == '\'':
			inString = !inString
			current.WriteRune(r)
		case r == ';' && !inString:
			flush()
		default:
			current.WriteRune(r)
		}
	}
	flush()
	return stmts
}
