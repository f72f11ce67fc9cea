package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/okian/bikeharvest/internal/domain/model"
	"github.com/okian/bikeharvest/internal/domain/persist"
	"github.com/okian/bikeharvest/pkg/logger"
)

// psql builds statements with $n placeholders.
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// PostgresStore is a Store on PostgreSQL. Record bodies are kept as JSONB;
// the columns beside them exist for lookups.
type PostgresStore struct {
	pool    *pgxpool.Pool
	migrate bool
	log     logger.Logger
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore connects to dsn and, when enabled, applies migrations.
func NewPostgresStore(ctx context.Context, dsn string, opts ...PostgresOption) (*PostgresStore, error) {
	if dsn == "" {
		return nil, ErrMissingDSN
	}
	s := &PostgresStore{}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.Get().Named("postgres_store")
	}
	if s.migrate {
		if err := Migrate(ctx, dsn, s.log); err != nil {
			return nil, err
		}
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s.pool = pool
	return s, nil
}

// Close implements Store.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Comprehensive implements Store.
func (s *PostgresStore) Comprehensive(ctx context.Context, key string) (*model.ComprehensiveRecord, error) {
	query, args, err := psql.Select("payload", "extracted_at").
		From("comprehensive_records").
		Where(sq.Eq{"key": key}).
		ToSql()
	if err != nil {
		return nil, err
	}
	rec := model.ComprehensiveRecord{Key: key}
	var payload []byte
	err = s.pool.QueryRow(ctx, query, args...).Scan(&payload, &rec.ExtractedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select comprehensive %s: %w", key, err)
	}
	rec.Payload = payload
	return &rec, nil
}

// Raw implements Store.
func (s *PostgresStore) Raw(ctx context.Context, key string) (*model.RawRecord, error) {
	query, args, err := psql.Select("record").
		From("raw_records").
		Where(sq.Eq{"key": key}).
		ToSql()
	if err != nil {
		return nil, err
	}
	var body []byte
	err = s.pool.QueryRow(ctx, query, args...).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select raw %s: %w", key, err)
	}
	var rec model.RawRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, fmt.Errorf("decode raw %s: %w", key, err)
	}
	return &rec, nil
}

// LastFailure implements Store.
func (s *PostgresStore) LastFailure(ctx context.Context, key string) (*model.FailureRecord, error) {
	query, args, err := psql.Select("url", "reason", "detail", "attempts", "failed_at").
		From("fetch_failures").
		Where(sq.Eq{"key": key}).
		ToSql()
	if err != nil {
		return nil, err
	}
	rec := model.FailureRecord{Key: key}
	err = s.pool.QueryRow(ctx, query, args...).
		Scan(&rec.URL, &rec.Reason, &rec.Detail, &rec.Attempts, &rec.FailedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select failure %s: %w", key, err)
	}
	return &rec, nil
}

// Canonical implements Store.
func (s *PostgresStore) Canonical(ctx context.Context, syntheticKey string) (*model.CanonicalRecord, error) {
	query, args, err := psql.Select("record").
		From("canonical_records").
		Where(sq.Eq{"synthetic_key": syntheticKey}).
		ToSql()
	if err != nil {
		return nil, err
	}
	var body []byte
	err = s.pool.QueryRow(ctx, query, args...).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select canonical %s: %w", syntheticKey, err)
	}
	var rec model.CanonicalRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, fmt.Errorf("decode canonical %s: %w", syntheticKey, err)
	}
	return &rec, nil
}

// Canonicals implements Store.
func (s *PostgresStore) Canonicals(ctx context.Context) ([]*model.CanonicalRecord, error) {
	query, args, err := psql.Select("record").
		From("canonical_records").
		OrderBy("synthetic_key").
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select canonicals: %w", err)
	}
	defer rows.Close()

	var out []*model.CanonicalRecord
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var rec model.CanonicalRecord
		if err := json.Unmarshal(body, &rec); err != nil {
			return nil, fmt.Errorf("decode canonical: %w", err)
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// PutComprehensive implements Store.
func (s *PostgresStore) PutComprehensive(ctx context.Context, rec model.ComprehensiveRecord) error {
	if rec.Key == "" {
		return ErrEmptyKey
	}
	query, args, err := psql.Insert("comprehensive_records").
		Columns("key", "payload", "extracted_at").
		Values(rec.Key, string(rec.Payload), rec.ExtractedAt).
		Suffix("ON CONFLICT (key) DO UPDATE SET payload = EXCLUDED.payload, extracted_at = EXCLUDED.extracted_at").
		ToSql()
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert comprehensive %s: %w", rec.Key, err)
	}
	return nil
}

// RecordFailure implements Store. Only the latest failure per key is kept.
func (s *PostgresStore) RecordFailure(ctx context.Context, rec model.FailureRecord) error {
	if rec.Key == "" {
		return ErrEmptyKey
	}
	query, args, err := psql.Insert("fetch_failures").
		Columns("key", "url", "reason", "detail", "attempts", "failed_at").
		Values(rec.Key, rec.URL, string(rec.Reason), rec.Detail, rec.Attempts, rec.FailedAt).
		Suffix("ON CONFLICT (key) DO UPDATE SET url = EXCLUDED.url, reason = EXCLUDED.reason, " +
			"detail = EXCLUDED.detail, attempts = EXCLUDED.attempts, failed_at = EXCLUDED.failed_at").
		ToSql()
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert failure %s: %w", rec.Key, err)
	}
	return nil
}

// WithTransaction implements Store. The transaction commits when fn returns
// nil and rolls back on error or panic.
func (s *PostgresStore) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx persist.Tx) error) (err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		} else if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			err = tx.Commit(ctx)
		}
	}()

	return fn(ctx, &postgresTx{tx: tx})
}

// Count implements Store.
func (s *PostgresStore) Count(ctx context.Context) (Counts, error) {
	tables := map[string]string{
		StoreComprehensive: "comprehensive_records",
		StoreRaw:           "raw_records",
		StoreFailures:      "fetch_failures",
		StoreCanonical:     "canonical_records",
	}
	out := make(Counts, len(tables))
	for name, table := range tables {
		query, args, err := psql.Select("count(*)").From(table).ToSql()
		if err != nil {
			return nil, err
		}
		var n int
		if err := s.pool.QueryRow(ctx, query, args...).Scan(&n); err != nil {
			return nil, fmt.Errorf("count %s: %w", table, err)
		}
		out[name] = n
	}
	return out, nil
}

// Catalog returns the catalog_entries table in insertion order.
func (s *PostgresStore) Catalog(ctx context.Context) ([]model.CatalogEntry, error) {
	query, args, err := psql.Select("key", "url", "make", "model", "year", "variant", "maker_id").
		From("catalog_entries").
		OrderBy("position").
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select catalog: %w", err)
	}
	defer rows.Close()

	var out []model.CatalogEntry
	for rows.Next() {
		var e model.CatalogEntry
		if err := rows.Scan(&e.Key, &e.URL, &e.Make, &e.Model, &e.Year, &e.Variant, &e.MakerID); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Makers returns the makers table as manufacturer name to maker id.
func (s *PostgresStore) Makers(ctx context.Context) (map[string]string, error) {
	query, args, err := psql.Select("name", "maker_id").From("makers").ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select makers: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var name, id string
		if err := rows.Scan(&name, &id); err != nil {
			return nil, err
		}
		out[name] = id
	}
	return out, rows.Err()
}

// postgresTx implements persist.Tx on one pgx transaction.
type postgresTx struct {
	tx pgx.Tx
}

// RawExists takes a transaction-scoped advisory lock on key first, so two
// gates racing on the same key are serialized.
func (t *postgresTx) RawExists(ctx context.Context, key string) (bool, error) {
	if _, err := t.tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", key); err != nil {
		return false, fmt.Errorf("lock %s: %w", key, err)
	}
	query, args, err := psql.Select("1").
		Prefix("SELECT EXISTS (").
		From("raw_records").
		Where(sq.Eq{"key": key}).
		Suffix(")").
		ToSql()
	if err != nil {
		return false, err
	}
	var exists bool
	if err := t.tx.QueryRow(ctx, query, args...).Scan(&exists); err != nil {
		return false, fmt.Errorf("check raw %s: %w", key, err)
	}
	return exists, nil
}

func (t *postgresTx) InsertRaw(ctx context.Context, rec model.RawRecord) error {
	if rec.Key == "" {
		return ErrEmptyKey
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode raw %s: %w", rec.Key, err)
	}
	query, args, err := psql.Insert("raw_records").
		Columns("key", "source", "success", "extracted_at", "record").
		Values(rec.Key, string(rec.Source), rec.Success, rec.ExtractedAt, string(body)).
		ToSql()
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, query, args...)
	return err
}

func (t *postgresTx) CombinationOwner(ctx context.Context, c model.Combination) (string, error) {
	query, args, err := psql.Select("synthetic_key").
		From("canonical_records").
		Where(sq.Eq{
			"make_key":    c.Make,
			"model_key":   c.Model,
			"year":        c.Year,
			"variant_key": c.Variant,
		}).
		OrderBy("synthetic_key").
		Limit(1).
		ToSql()
	if err != nil {
		return "", err
	}
	var key string
	err = t.tx.QueryRow(ctx, query, args...).Scan(&key)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return key, err
}

func (t *postgresTx) UpsertCanonical(ctx context.Context, rec *model.CanonicalRecord) error {
	if rec == nil || rec.SyntheticKey == "" {
		return ErrEmptyKey
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode canonical %s: %w", rec.SyntheticKey, err)
	}
	c := rec.Combination()
	updated := rec.UpdatedAt
	if updated.IsZero() {
		updated = time.Now().UTC()
	}
	cols := []string{"make_key", "model_key", "year", "variant_key", "maker_id", "raw_key", "record", "updated_at"}
	set := make([]string, len(cols))
	for i, col := range cols {
		set[i] = col + " = EXCLUDED." + col
	}
	query, args, err := psql.Insert("canonical_records").
		Columns(append([]string{"synthetic_key"}, cols...)...).
		Values(rec.SyntheticKey, c.Make, c.Model, c.Year, c.Variant, rec.MakerID, rec.RawKey, string(body), updated).
		Suffix("ON CONFLICT (synthetic_key) DO UPDATE SET " + strings.Join(set, ", ")).
		ToSql()
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, query, args...)
	return err
}
