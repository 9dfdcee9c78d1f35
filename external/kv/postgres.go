package kv

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/foxseedlab/pokerbot/internal/kv"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgTooManyConnections   = "53300"
	pgAdminShutdown        = "57P01"
)

// PostgresStore keeps every item in one kv_items table. Conditions are
// checked against rows locked with SELECT ... FOR UPDATE; inserts guarded by
// a not-exists condition rely on the primary key so that two transactions
// racing on an absent row cannot both succeed.
type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, now: time.Now}
}

func (s *PostgresStore) Put(ctx context.Context, item kv.Item, cond *kv.Condition) error {
	return s.Transact(ctx, []kv.Op{kv.PutOp(item, cond)})
}

func (s *PostgresStore) Get(ctx context.Context, key kv.Key) (*kv.Item, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT attrs, expires_at FROM kv_items
		 WHERE pk = $1 AND sk = $2 AND (expires_at IS NULL OR expires_at > $3)`,
		key.PK, key.SK, s.now().Unix())
	it := kv.Item{Key: key}
	var expiresAt *int64
	if err := row.Scan(&it.Attrs, &expiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, classifyPostgresError(err, -1, key)
	}
	if expiresAt != nil {
		it.ExpiresAt = *expiresAt
	}
	return &it, nil
}

func (s *PostgresStore) Query(ctx context.Context, pk, skPrefix string) ([]kv.Item, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT sk, attrs, expires_at FROM kv_items
		 WHERE pk = $1 AND starts_with(sk, $2) AND (expires_at IS NULL OR expires_at > $3)
		 ORDER BY sk ASC`,
		pk, skPrefix, s.now().Unix())
	if err != nil {
		return nil, classifyPostgresError(err, -1, kv.Key{PK: pk})
	}
	defer rows.Close()
	var list []kv.Item
	for rows.Next() {
		it := kv.Item{Key: kv.Key{PK: pk}}
		var expiresAt *int64
		if err := rows.Scan(&it.SK, &it.Attrs, &expiresAt); err != nil {
			return nil, err
		}
		if expiresAt != nil {
			it.ExpiresAt = *expiresAt
		}
		list = append(list, it)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyPostgresError(err, -1, kv.Key{PK: pk})
	}
	return list, nil
}

func (s *PostgresStore) Transact(ctx context.Context, ops []kv.Op) error {
	if err := kv.ValidateTransact(ops); err != nil {
		return err
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return classifyPostgresError(err, -1, kv.Key{})
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	now := s.now()
	for i, op := range ops {
		if err := s.apply(ctx, tx, op, now); err != nil {
			return classifyPostgresError(err, i, op.Key)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return classifyPostgresError(err, -1, kv.Key{})
	}
	return nil
}

func (s *PostgresStore) PurgeExpired(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM kv_items WHERE expires_at IS NOT NULL AND expires_at <= $1`,
		s.now().Unix())
	if err != nil {
		return 0, classifyPostgresError(err, -1, kv.Key{})
	}
	return tag.RowsAffected(), nil
}

// lockedRow is the state of one key inside a transaction. exists is true
// when a physical row is present, even if it has expired.
type lockedRow struct {
	exists bool
	live   *kv.Item
}

func (s *PostgresStore) lock(ctx context.Context, tx pgx.Tx, key kv.Key, now time.Time) (lockedRow, error) {
	row := tx.QueryRow(ctx,
		`SELECT attrs, expires_at FROM kv_items WHERE pk = $1 AND sk = $2 FOR UPDATE`,
		key.PK, key.SK)
	it := kv.Item{Key: key}
	var expiresAt *int64
	if err := row.Scan(&it.Attrs, &expiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return lockedRow{}, nil
		}
		return lockedRow{}, err
	}
	if expiresAt != nil {
		it.ExpiresAt = *expiresAt
	}
	if it.Expired(now) {
		return lockedRow{exists: true}, nil
	}
	return lockedRow{exists: true, live: &it}, nil
}

func (s *PostgresStore) apply(ctx context.Context, tx pgx.Tx, op kv.Op, now time.Time) error {
	cur, err := s.lock(ctx, tx, op.Key, now)
	if err != nil {
		return err
	}
	if !op.Condition.Holds(cur.live) {
		return &kv.ConditionFailedError{Key: op.Key}
	}

	switch op.Kind {
	case kv.OpPut:
		return s.write(ctx, tx, op, cur, op.Item.Attrs, expiresParam(op.Item.ExpiresAt))
	case kv.OpUpdate:
		attrs := make(map[string]string, len(op.Set))
		var expires *int64
		if cur.live != nil {
			maps.Copy(attrs, cur.live.Attrs)
			expires = expiresParam(cur.live.ExpiresAt)
		}
		maps.Copy(attrs, op.Set)
		return s.write(ctx, tx, op, cur, attrs, expires)
	case kv.OpDelete:
		_, err := tx.Exec(ctx, `DELETE FROM kv_items WHERE pk = $1 AND sk = $2`, op.Key.PK, op.Key.SK)
		return err
	default:
		return fmt.Errorf("unsupported op kind %s", op.Kind)
	}
}

func (s *PostgresStore) write(ctx context.Context, tx pgx.Tx, op kv.Op, cur lockedRow, attrs map[string]string, expires *int64) error {
	if attrs == nil {
		attrs = map[string]string{}
	}
	if cur.exists {
		_, err := tx.Exec(ctx,
			`UPDATE kv_items SET attrs = $3, expires_at = $4, updated_at = NOW() WHERE pk = $1 AND sk = $2`,
			op.Key.PK, op.Key.SK, attrs, expires)
		return err
	}
	if op.Condition != nil {
		// A concurrent insert of the same key surfaces as a unique violation.
		_, err := tx.Exec(ctx,
			`INSERT INTO kv_items (pk, sk, attrs, expires_at) VALUES ($1, $2, $3, $4)`,
			op.Key.PK, op.Key.SK, attrs, expires)
		return err
	}
	_, err := tx.Exec(ctx,
		`INSERT INTO kv_items (pk, sk, attrs, expires_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (pk, sk) DO UPDATE SET attrs = EXCLUDED.attrs, expires_at = EXCLUDED.expires_at, updated_at = NOW()`,
		op.Key.PK, op.Key.SK, attrs, expires)
	return err
}

func expiresParam(epoch int64) *int64 {
	if epoch <= 0 {
		return nil
	}
	return &epoch
}

// classifyPostgresError maps driver failures onto the kv error kinds. index
// is the failing op position, or -1 when the failure is not tied to an op.
func classifyPostgresError(err error, index int, key kv.Key) error {
	var cf *kv.ConditionFailedError
	if errors.As(err, &cf) {
		return &kv.ConditionFailedError{Index: max(index, 0), Key: key}
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			if index >= 0 {
				return &kv.ConditionFailedError{Index: index, Key: key}
			}
		case pgSerializationFailure, pgDeadlockDetected, pgTooManyConnections, pgAdminShutdown:
			return kv.Transient(err)
		}
		return err
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return kv.Transient(err)
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return kv.Transient(err)
	}
	return err
}
