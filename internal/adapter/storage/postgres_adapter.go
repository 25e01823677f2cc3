package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rl1809/dropspot/internal/core/domain"
	"github.com/rl1809/dropspot/internal/port"
)

const pgUniqueViolation = "23505"

type PostgresAdapter struct {
	pool *pgxpool.Pool
}

var _ port.Store = (*PostgresAdapter)(nil)

func NewPostgresAdapter(pool *pgxpool.Pool) *PostgresAdapter {
	return &PostgresAdapter{pool: pool}
}

// OpenPostgres creates a pgx pool for dsn and pings it.
func OpenPostgres(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// PostgresMigrationURL rewrites a postgres:// DSN to golang-migrate's pgx5:// scheme.
func PostgresMigrationURL(dsn string) (string, error) {
	for _, prefix := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(dsn, prefix) {
			return "pgx5://" + strings.TrimPrefix(dsn, prefix), nil
		}
	}
	return "", fmt.Errorf("postgres dsn must be a postgres:// URL")
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// runInTx runs fn in a transaction, rolling back on error.
func (p *PostgresAdapter) runInTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

const pgDropColumns = `id::text, title, description, stock, remaining_stock,
	waitlist_open_at, claim_open_at, claim_close_at, base_priority, created_at, updated_at`

func (p *PostgresAdapter) CreateDrop(ctx context.Context, drop domain.Drop) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO drops (id, title, description, stock, remaining_stock,
			waitlist_open_at, claim_open_at, claim_close_at, base_priority, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4, $5, $6, $7, $8, $9, $10)`,
		drop.ID, drop.Title, drop.Description, drop.Stock,
		drop.WaitlistOpenAt, drop.ClaimOpenAt, drop.ClaimCloseAt, drop.BasePriority,
		drop.CreatedAt, drop.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return port.ErrDuplicateDrop
	}
	if err != nil {
		return fmt.Errorf("insert drop: %w", err)
	}
	return nil
}

func (p *PostgresAdapter) GetDrop(ctx context.Context, dropID string) (*domain.Drop, error) {
	d, err := scanDrop(p.pool.QueryRow(ctx, `SELECT `+pgDropColumns+` FROM drops WHERE id = $1`, dropID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query drop: %w", err)
	}
	return &d, nil
}

func (p *PostgresAdapter) ListDrops(ctx context.Context) ([]domain.Drop, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+pgDropColumns+` FROM drops ORDER BY claim_open_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query drops: %w", err)
	}
	defer rows.Close()

	var drops []domain.Drop
	for rows.Next() {
		d, err := scanDrop(rows)
		if err != nil {
			return nil, fmt.Errorf("scan drop: %w", err)
		}
		drops = append(drops, d)
	}
	return drops, rows.Err()
}

func pgLockDropWithoutClaims(ctx context.Context, tx pgx.Tx, dropID string) error {
	var locked int
	err := tx.QueryRow(ctx, `SELECT 1 FROM drops WHERE id = $1 FOR UPDATE`, dropID).Scan(&locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return port.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock drop: %w", err)
	}

	var claims int
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM claim_records WHERE drop_id = $1`, dropID).Scan(&claims); err != nil {
		return fmt.Errorf("count claims: %w", err)
	}
	if claims > 0 {
		return port.ErrDropHasClaims
	}
	return nil
}

func (p *PostgresAdapter) UpdateDrop(ctx context.Context, drop domain.Drop) error {
	return p.runInTx(ctx, func(tx pgx.Tx) error {
		if err := pgLockDropWithoutClaims(ctx, tx, drop.ID); err != nil {
			return err
		}

		_, err := tx.Exec(ctx, `
			UPDATE drops
			SET title = $2, description = $3, stock = $4, remaining_stock = $4,
				waitlist_open_at = $5, claim_open_at = $6, claim_close_at = $7, base_priority = $8, updated_at = $9
			WHERE id = $1`,
			drop.ID, drop.Title, drop.Description, drop.Stock,
			drop.WaitlistOpenAt, drop.ClaimOpenAt, drop.ClaimCloseAt, drop.BasePriority, drop.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("update drop: %w", err)
		}
		return nil
	})
}

func (p *PostgresAdapter) DeleteDrop(ctx context.Context, dropID string) error {
	return p.runInTx(ctx, func(tx pgx.Tx) error {
		if err := pgLockDropWithoutClaims(ctx, tx, dropID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM drops WHERE id = $1`, dropID); err != nil {
			return fmt.Errorf("delete drop: %w", err)
		}
		return nil
	})
}

const pgEntryColumns = `drop_id::text, user_id, joined_at, status, updated_at`

func (p *PostgresAdapter) GetEntry(ctx context.Context, dropID, userID string) (*domain.WaitlistEntry, error) {
	e, err := scanEntry(p.pool.QueryRow(ctx, `
		SELECT `+pgEntryColumns+` FROM waitlist_entries
		WHERE drop_id = $1 AND user_id = $2`, dropID, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query entry: %w", err)
	}
	return &e, nil
}

func (p *PostgresAdapter) JoinEntry(ctx context.Context, dropID, userID string, now time.Time) (domain.WaitlistEntry, bool, error) {
	var e domain.WaitlistEntry
	var status string
	var changed bool

	// A fresh insert or a left->active flip returns the row; an already active
	// or claimed entry is left alone and reported as existing.
	err := p.pool.QueryRow(ctx, `
		INSERT INTO waitlist_entries (drop_id, user_id, joined_at, status, updated_at)
		SELECT id, $2, $3, $4, $3 FROM drops WHERE id = $1
		ON CONFLICT (drop_id, user_id) DO UPDATE
			SET status = EXCLUDED.status, updated_at = EXCLUDED.updated_at
			WHERE waitlist_entries.status = $5
		RETURNING `+pgEntryColumns+`, true`,
		dropID, userID, now, string(domain.EntryStatusActive), string(domain.EntryStatusLeft),
	).Scan(&e.DropID, &e.UserID, &e.JoinedAt, &status, &e.UpdatedAt, &changed)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return domain.WaitlistEntry{}, false, fmt.Errorf("join entry: %w", err)
	}
	if err == nil {
		e.Status = domain.EntryStatus(status)
		e.JoinedAt = e.JoinedAt.UTC()
		e.UpdatedAt = e.UpdatedAt.UTC()
		return e, false, nil
	}

	existing, err := p.GetEntry(ctx, dropID, userID)
	if err != nil {
		return domain.WaitlistEntry{}, false, err
	}
	if existing == nil {
		return domain.WaitlistEntry{}, false, port.ErrNotFound
	}
	return *existing, true, nil
}

func (p *PostgresAdapter) LeaveEntry(ctx context.Context, dropID, userID string, now time.Time) (bool, error) {
	tag, err := p.pool.Exec(ctx, `
		UPDATE waitlist_entries SET status = $3, updated_at = $4
		WHERE drop_id = $1 AND user_id = $2 AND status = $5`,
		dropID, userID, string(domain.EntryStatusLeft), now, string(domain.EntryStatusActive),
	)
	if err != nil {
		return false, fmt.Errorf("leave entry: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	entry, err := p.GetEntry(ctx, dropID, userID)
	if err != nil {
		return false, err
	}
	if entry != nil && entry.Status == domain.EntryStatusClaimed {
		return false, port.ErrEntryClaimed
	}
	return false, nil
}

func (p *PostgresAdapter) ListEntries(ctx context.Context, dropID string, status domain.EntryStatus) ([]domain.WaitlistEntry, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT `+pgEntryColumns+` FROM waitlist_entries
		WHERE drop_id = $1 AND status = $2
		ORDER BY user_id`, dropID, string(status))
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.WaitlistEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (p *PostgresAdapter) GetClaim(ctx context.Context, dropID, userID string) (*domain.ClaimRecord, error) {
	c, err := scanClaim(p.pool.QueryRow(ctx, `
		SELECT drop_id::text, user_id, claim_code, claimed_at FROM claim_records
		WHERE drop_id = $1 AND user_id = $2`, dropID, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query claim: %w", err)
	}
	return &c, nil
}

func (p *PostgresAdapter) ListClaims(ctx context.Context, dropID string) ([]domain.ClaimRecord, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT drop_id::text, user_id, claim_code, claimed_at FROM claim_records
		WHERE drop_id = $1 ORDER BY claimed_at, user_id`, dropID)
	if err != nil {
		return nil, fmt.Errorf("query claims: %w", err)
	}
	defer rows.Close()

	var claims []domain.ClaimRecord
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, fmt.Errorf("scan claim: %w", err)
		}
		claims = append(claims, c)
	}
	return claims, rows.Err()
}

func (p *PostgresAdapter) CommitClaim(ctx context.Context, claim domain.ClaimRecord, expectedRemaining int) error {
	return p.runInTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE drops
			SET remaining_stock = remaining_stock - 1, updated_at = $3
			WHERE id = $1 AND remaining_stock = $2 AND remaining_stock > 0`,
			claim.DropID, expectedRemaining, claim.ClaimedAt,
		)
		if err != nil {
			return fmt.Errorf("decrement stock: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return port.ErrStockConflict
		}

		tag, err = tx.Exec(ctx, `
			UPDATE waitlist_entries SET status = $3, updated_at = $4
			WHERE drop_id = $1 AND user_id = $2 AND status = $5`,
			claim.DropID, claim.UserID, string(domain.EntryStatusClaimed), claim.ClaimedAt, string(domain.EntryStatusActive),
		)
		if err != nil {
			return fmt.Errorf("mark entry claimed: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return port.ErrEntryNotActive
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO claim_records (drop_id, user_id, claim_code, claimed_at)
			VALUES ($1, $2, $3, $4)`,
			claim.DropID, claim.UserID, claim.ClaimCode, claim.ClaimedAt,
		)
		if isUniqueViolation(err) {
			return port.ErrDuplicateClaim
		}
		if err != nil {
			return fmt.Errorf("insert claim: %w", err)
		}
		return nil
	})
}

func (p *PostgresAdapter) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *PostgresAdapter) Close() error {
	p.pool.Close()
	return nil
}
