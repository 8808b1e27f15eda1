package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	upsertSnapshotSQL = `INSERT INTO price_snapshots (
        bucket_ts,
        token,
        price_usd,
        liquidity_usd,
        pair_address,
        reference,
        source,
        status,
        error
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9
    )
    ON CONFLICT (bucket_ts, token) DO UPDATE
    SET
        price_usd     = EXCLUDED.price_usd,
        liquidity_usd = EXCLUDED.liquidity_usd,
        pair_address  = EXCLUDED.pair_address,
        reference     = EXCLUDED.reference,
        source        = EXCLUDED.source,
        status        = EXCLUDED.status,
        error         = EXCLUDED.error;`

	listRecentSnapshotsSQL = `SELECT
        bucket_ts,
        token,
        price_usd,
        liquidity_usd,
        pair_address,
        reference,
        source,
        status,
        error,
        created_at
    FROM price_snapshots
    ORDER BY bucket_ts DESC, token
    LIMIT $1;`

	listTokenSnapshotsSQL = `SELECT
        bucket_ts,
        token,
        price_usd,
        liquidity_usd,
        pair_address,
        reference,
        source,
        status,
        error,
        created_at
    FROM price_snapshots
    WHERE token = $1
    ORDER BY bucket_ts DESC
    LIMIT $2;`

	upsertBridgePriceSQL = `INSERT INTO bridge_price (id, price_usd, updated_at)
    VALUES (1, $1, $2)
    ON CONFLICT (id) DO UPDATE
    SET price_usd = EXCLUDED.price_usd, updated_at = EXCLUDED.updated_at;`

	getBridgePriceSQL = `SELECT price_usd, updated_at FROM bridge_price WHERE id = 1;`

	insertAlertSQL = `INSERT INTO alerts (
        bucket_ts,
        token,
        previous_usd,
        current_usd,
        change_pct,
        threshold_pct,
        direction,
        channels
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8
    )
    ON CONFLICT (bucket_ts, token) DO UPDATE
    SET previous_usd  = EXCLUDED.previous_usd,
        current_usd   = EXCLUDED.current_usd,
        change_pct    = EXCLUDED.change_pct,
        threshold_pct = EXCLUDED.threshold_pct,
        direction     = EXCLUDED.direction,
        channels      = EXCLUDED.channels
    RETURNING id;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// SnapshotStore defines operations for price snapshot persistence.
type SnapshotStore interface {
	UpsertSnapshot(ctx context.Context, snapshot PriceSnapshot) error
	ListRecentSnapshots(ctx context.Context, limit int) ([]PriceSnapshot, error)
	ListTokenSnapshots(ctx context.Context, token string, limit int) ([]PriceSnapshot, error)
}

// BridgePriceStore persists the last-known-good bridge anchor across restarts.
type BridgePriceStore interface {
	UpsertBridgePrice(ctx context.Context, price BridgePrice) error
	GetBridgePrice(ctx context.Context) (BridgePrice, bool, error)
}

// AlertStore defines operations for alert auditing.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert AlertRecord) (int64, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to snapshots, the bridge anchor, and alerts.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// UpsertSnapshot persists or updates one token observation.
func (s *Store) UpsertSnapshot(ctx context.Context, snapshot PriceSnapshot) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var errMsg interface{}
	if snapshot.Error != nil {
		errMsg = *snapshot.Error
	}

	_, execErr := pool.Exec(ctx, upsertSnapshotSQL,
		snapshot.Bucket,
		snapshot.Token,
		snapshot.PriceUSD.String(),
		snapshot.LiquidityUSD.String(),
		snapshot.PairAddress,
		snapshot.Reference,
		snapshot.Source,
		snapshot.Status,
		errMsg,
	)
	if execErr != nil {
		return fmt.Errorf("upsert price snapshot: %w", execErr)
	}
	return nil
}

// ListRecentSnapshots lists the most recent observations across all tokens.
func (s *Store) ListRecentSnapshots(ctx context.Context, limit int) ([]PriceSnapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentSnapshotsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent snapshots: %w", queryErr)
	}
	defer rows.Close()

	return collectSnapshots(rows, limit)
}

// ListTokenSnapshots lists the most recent observations for one token.
func (s *Store) ListTokenSnapshots(ctx context.Context, token string, limit int) ([]PriceSnapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listTokenSnapshotsSQL, token, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list token snapshots: %w", queryErr)
	}
	defer rows.Close()

	return collectSnapshots(rows, limit)
}

func collectSnapshots(rows pgx.Rows, limit int) ([]PriceSnapshot, error) {
	snapshots := make([]PriceSnapshot, 0, limit)
	for rows.Next() {
		snapshot, scanErr := scanSnapshot(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		snapshots = append(snapshots, snapshot)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return snapshots, nil
}

func scanSnapshot(row pgx.Row) (PriceSnapshot, error) {
	var (
		snapshot  PriceSnapshot
		price     string
		liquidity string
		errMsg    *string
	)
	if err := row.Scan(
		&snapshot.Bucket,
		&snapshot.Token,
		&price,
		&liquidity,
		&snapshot.PairAddress,
		&snapshot.Reference,
		&snapshot.Source,
		&snapshot.Status,
		&errMsg,
		&snapshot.CreatedAt,
	); err != nil {
		return PriceSnapshot{}, fmt.Errorf("scan snapshot: %w", err)
	}

	parsedPrice, err := decimal.NewFromString(price)
	if err != nil {
		return PriceSnapshot{}, fmt.Errorf("parse snapshot price: %w", err)
	}
	parsedLiquidity, err := decimal.NewFromString(liquidity)
	if err != nil {
		return PriceSnapshot{}, fmt.Errorf("parse snapshot liquidity: %w", err)
	}

	snapshot.PriceUSD = parsedPrice
	snapshot.LiquidityUSD = parsedLiquidity
	snapshot.Error = errMsg
	return snapshot, nil
}

// UpsertBridgePrice stores the last-known-good bridge anchor.
func (s *Store) UpsertBridgePrice(ctx context.Context, price BridgePrice) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	if _, execErr := pool.Exec(ctx, upsertBridgePriceSQL, price.Price.String(), price.UpdatedAt); execErr != nil {
		return fmt.Errorf("upsert bridge price: %w", execErr)
	}
	return nil
}

// GetBridgePrice returns the persisted bridge anchor, if any.
func (s *Store) GetBridgePrice(ctx context.Context) (BridgePrice, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return BridgePrice{}, false, err
	}

	var (
		raw       string
		updatedAt time.Time
	)
	if err := pool.QueryRow(ctx, getBridgePriceSQL).Scan(&raw, &updatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return BridgePrice{}, false, nil
		}
		return BridgePrice{}, false, fmt.Errorf("get bridge price: %w", err)
	}

	price, err := decimal.NewFromString(raw)
	if err != nil {
		return BridgePrice{}, false, fmt.Errorf("parse bridge price: %w", err)
	}
	return BridgePrice{Price: price, UpdatedAt: updatedAt}, true, nil
}

// InsertAlert persists a price-move alert record.
func (s *Store) InsertAlert(ctx context.Context, alert AlertRecord) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}

	var id int64
	if err := pool.QueryRow(ctx, insertAlertSQL,
		alert.Bucket,
		alert.Token,
		alert.PreviousUSD.String(),
		alert.CurrentUSD.String(),
		alert.ChangePct.String(),
		alert.ThresholdPct.String(),
		alert.Direction,
		alert.Channels,
	).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert alert: %w", err)
	}
	return id, nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// best effort; the lock dies with the connection anyway
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}
