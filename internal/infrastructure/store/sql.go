package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/macrolens/larder/internal/domain"
)

//go:embed schema.sql
var schemaSQL string

// Dialect selects the SQL driver and placeholder style.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

// SQLStore persists inventory in sqlite or postgres. Completion batches run
// in one transaction of conditional UPDATE/DELETE statements.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	epsilon float64
	log     *zap.Logger
}

var _ domain.InventoryStore = (*SQLStore)(nil)

// OpenSQLite creates or opens a sqlite database at path.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - a 5-second busy timeout for lock contention
//   - a single connection, so completion transactions serialize
func OpenSQLite(ctx context.Context, path string, epsilon float64, log *zap.Logger) (*SQLStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return newSQLStore(ctx, db, SQLite, epsilon, log)
}

// OpenPostgres connects to postgres using dsn.
func OpenPostgres(ctx context.Context, dsn string, epsilon float64, log *zap.Logger) (*SQLStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return newSQLStore(ctx, db, Postgres, epsilon, log)
}

func newSQLStore(ctx context.Context, db *sql.DB, dialect Dialect, epsilon float64, log *zap.Logger) (*SQLStore, error) {
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	if epsilon <= 0 {
		epsilon = DefaultEpsilon
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &SQLStore{db: db, dialect: dialect, epsilon: epsilon, log: log}, nil
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// rebind rewrites '?' placeholders as $1, $2, ... for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != Postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const recordColumns = `record_id, household_id, name, quantity, unit, category, expiration_date, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (domain.InventoryRecord, error) {
	var (
		r       domain.InventoryRecord
		expires sql.NullTime
	)
	if err := row.Scan(&r.RecordID, &r.HouseholdID, &r.Name, &r.Quantity, &r.Unit, &r.Category, &expires, &r.CreatedAt); err != nil {
		return domain.InventoryRecord{}, err
	}
	if expires.Valid {
		t := expires.Time.UTC()
		r.ExpirationDate = &t
	}
	r.CreatedAt = r.CreatedAt.UTC()
	return r, nil
}

// ListRecords returns the household's records ordered by record id. An empty
// household id lists every record.
func (s *SQLStore) ListRecords(ctx context.Context, householdID string) ([]domain.InventoryRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM inventory_records`
	var args []any
	if householdID != "" {
		query += ` WHERE household_id = ?`
		args = append(args, householdID)
	}
	query += ` ORDER BY record_id`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("%w: list records: %v", domain.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	out := []domain.InventoryRecord{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan record: %v", domain.ErrStoreUnavailable, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list records: %v", domain.ErrStoreUnavailable, err)
	}
	return out, nil
}

// GetRecord returns one record or domain.ErrRecordNotFound.
func (s *SQLStore) GetRecord(ctx context.Context, recordID string) (*domain.InventoryRecord, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+recordColumns+` FROM inventory_records WHERE record_id = ?`), recordID)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrRecordNotFound, recordID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get record: %v", domain.ErrStoreUnavailable, err)
	}
	return &r, nil
}

// PutRecord inserts or replaces a record.
func (s *SQLStore) PutRecord(ctx context.Context, r domain.InventoryRecord) error {
	if err := validateRecord(r); err != nil {
		return err
	}
	var expires any
	if r.ExpirationDate != nil {
		expires = r.ExpirationDate.UTC()
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO inventory_records (`+recordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (record_id) DO UPDATE SET
			household_id = excluded.household_id,
			name = excluded.name,
			quantity = excluded.quantity,
			unit = excluded.unit,
			category = excluded.category,
			expiration_date = excluded.expiration_date,
			created_at = excluded.created_at
	`), r.RecordID, r.HouseholdID, r.Name, r.Quantity, r.Unit, r.Category, expires, r.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("%w: put record: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}

// DeleteRecord removes a record.
func (s *SQLStore) DeleteRecord(ctx context.Context, recordID string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM inventory_records WHERE record_id = ?`), recordID)
	if err != nil {
		return fmt.Errorf("%w: delete record: %v", domain.ErrStoreUnavailable, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrRecordNotFound, recordID)
	}
	return nil
}

// ApplyCompletion runs every conditional statement in one transaction. A
// statement that touches no row means the record changed or vanished; all
// such records are collected and the transaction is rolled back.
func (s *SQLStore) ApplyCompletion(ctx context.Context, mutations []domain.RecordMutation, audit []domain.CompletionAuditEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", domain.ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	updateSQL := s.rebind(`UPDATE inventory_records SET quantity = ? WHERE record_id = ? AND ABS(quantity - ?) <= ?`)
	deleteSQL := s.rebind(`DELETE FROM inventory_records WHERE record_id = ? AND ABS(quantity - ?) <= ?`)

	var conflicts []string
	for _, m := range mutations {
		var res sql.Result
		if m.Delete {
			res, err = tx.ExecContext(ctx, deleteSQL, m.RecordID, m.ExpectedQuantity, s.epsilon)
		} else {
			res, err = tx.ExecContext(ctx, updateSQL, m.NewQuantity, m.RecordID, m.ExpectedQuantity, s.epsilon)
		}
		if err != nil {
			return fmt.Errorf("%w: mutate %s: %v", domain.ErrStoreUnavailable, m.RecordID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("%w: rows affected: %v", domain.ErrStoreUnavailable, err)
		}
		if n == 0 {
			conflicts = append(conflicts, m.RecordID)
		}
	}
	if len(conflicts) > 0 {
		return &domain.ConflictError{RecordIDs: conflicts}
	}

	insertSQL := s.rebind(`
		INSERT INTO completion_audit
		(audit_id, record_id, household_id, quantity_before, quantity_after, unit, cause, recipe_reference, created_at, position)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	for i, e := range audit {
		if _, err := tx.ExecContext(ctx, insertSQL,
			e.AuditID, e.RecordID, e.HouseholdID, e.QuantityBefore, e.QuantityAfter,
			e.Unit, e.Cause, e.RecipeReference, e.Timestamp.UTC(), i,
		); err != nil {
			return fmt.Errorf("%w: audit %s: %v", domain.ErrStoreUnavailable, e.RecordID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", domain.ErrStoreUnavailable, err)
	}
	s.log.Debug("completion committed", zap.Int("mutations", len(mutations)), zap.Int("audit_entries", len(audit)))
	return nil
}

// ListAudit returns the audit trail of one record, oldest first.
func (s *SQLStore) ListAudit(ctx context.Context, recordID string) ([]domain.CompletionAuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT audit_id, record_id, household_id, quantity_before, quantity_after, unit, cause, recipe_reference, created_at
		FROM completion_audit
		WHERE record_id = ?
		ORDER BY created_at, position
	`), recordID)
	if err != nil {
		return nil, fmt.Errorf("%w: list audit: %v", domain.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	out := []domain.CompletionAuditEntry{}
	for rows.Next() {
		var e domain.CompletionAuditEntry
		if err := rows.Scan(&e.AuditID, &e.RecordID, &e.HouseholdID, &e.QuantityBefore, &e.QuantityAfter,
			&e.Unit, &e.Cause, &e.RecipeReference, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("%w: scan audit: %v", domain.ErrStoreUnavailable, err)
		}
		e.Timestamp = e.Timestamp.UTC()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list audit: %v", domain.ErrStoreUnavailable, err)
	}
	return out, nil
}
