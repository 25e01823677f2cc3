package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/rl1809/dropspot/internal/core/domain"
	"github.com/rl1809/dropspot/internal/port"
)

const mysqlDuplicateEntry = 1062

type MySQLAdapter struct {
	db *sql.DB
}

var _ port.Store = (*MySQLAdapter)(nil)

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

// OpenMySQL opens a pool for dsn, forcing parseTime and UTC so DATETIME(6)
// columns round-trip as UTC time.Time.
func OpenMySQL(ctx context.Context, dsn string) (*sql.DB, error) {
	cfg, err := mysqlConfig(dsn)
	if err != nil {
		return nil, err
	}

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("mysql connector: %w", err)
	}

	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}
	return db, nil
}

// MySQLMigrationURL converts a driver DSN into a golang-migrate URL.
func MySQLMigrationURL(dsn string) (string, error) {
	cfg, err := mysqlConfig(dsn)
	if err != nil {
		return "", err
	}
	cfg.MultiStatements = true
	return "mysql://" + cfg.FormatDSN(), nil
}

func mysqlConfig(dsn string) (*mysql.Config, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	return cfg, nil
}

func isDuplicateEntry(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == mysqlDuplicateEntry
}

const dropColumns = `id, title, description, stock, remaining_stock,
	waitlist_open_at, claim_open_at, claim_close_at, base_priority, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDrop(row rowScanner) (domain.Drop, error) {
	var d domain.Drop
	err := row.Scan(&d.ID, &d.Title, &d.Description, &d.Stock, &d.RemainingStock,
		&d.WaitlistOpenAt, &d.ClaimOpenAt, &d.ClaimCloseAt, &d.BasePriority, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return domain.Drop{}, err
	}
	d.WaitlistOpenAt = d.WaitlistOpenAt.UTC()
	d.ClaimOpenAt = d.ClaimOpenAt.UTC()
	d.ClaimCloseAt = d.ClaimCloseAt.UTC()
	d.CreatedAt = d.CreatedAt.UTC()
	d.UpdatedAt = d.UpdatedAt.UTC()
	return d, nil
}

func (m *MySQLAdapter) CreateDrop(ctx context.Context, drop domain.Drop) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO drops (`+dropColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		drop.ID, drop.Title, drop.Description, drop.Stock, drop.Stock,
		drop.WaitlistOpenAt, drop.ClaimOpenAt, drop.ClaimCloseAt, drop.BasePriority,
		drop.CreatedAt, drop.UpdatedAt,
	)
	if isDuplicateEntry(err) {
		return port.ErrDuplicateDrop
	}
	if err != nil {
		return fmt.Errorf("insert drop: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) GetDrop(ctx context.Context, dropID string) (*domain.Drop, error) {
	d, err := scanDrop(m.db.QueryRowContext(ctx, `SELECT `+dropColumns+` FROM drops WHERE id = ?`, dropID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query drop: %w", err)
	}
	return &d, nil
}

func (m *MySQLAdapter) ListDrops(ctx context.Context) ([]domain.Drop, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT `+dropColumns+` FROM drops ORDER BY claim_open_at ASC, id ASC`)
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

// lockDropWithoutClaims locks the drop row and verifies no claim references it.
// Claim commits take the same row lock, so the check cannot race a commit.
func lockDropWithoutClaims(ctx context.Context, tx *sql.Tx, dropID string) error {
	var id string
	err := tx.QueryRowContext(ctx, `SELECT id FROM drops WHERE id = ? FOR UPDATE`, dropID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return port.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock drop: %w", err)
	}

	var claims int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM claim_records WHERE drop_id = ?`, dropID).Scan(&claims); err != nil {
		return fmt.Errorf("count claims: %w", err)
	}
	if claims > 0 {
		return port.ErrDropHasClaims
	}
	return nil
}

func (m *MySQLAdapter) UpdateDrop(ctx context.Context, drop domain.Drop) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := lockDropWithoutClaims(ctx, tx, drop.ID); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE drops
		SET title = ?, description = ?, stock = ?, remaining_stock = ?,
			waitlist_open_at = ?, claim_open_at = ?, claim_close_at = ?, base_priority = ?, updated_at = ?
		WHERE id = ?`,
		drop.Title, drop.Description, drop.Stock, drop.Stock,
		drop.WaitlistOpenAt, drop.ClaimOpenAt, drop.ClaimCloseAt, drop.BasePriority, drop.UpdatedAt,
		drop.ID,
	)
	if err != nil {
		return fmt.Errorf("update drop: %w", err)
	}

	return tx.Commit()
}

func (m *MySQLAdapter) DeleteDrop(ctx context.Context, dropID string) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := lockDropWithoutClaims(ctx, tx, dropID); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM drops WHERE id = ?`, dropID); err != nil {
		return fmt.Errorf("delete drop: %w", err)
	}

	return tx.Commit()
}

const entryColumns = `drop_id, user_id, joined_at, status, updated_at`

func scanEntry(row rowScanner) (domain.WaitlistEntry, error) {
	var e domain.WaitlistEntry
	var status string
	if err := row.Scan(&e.DropID, &e.UserID, &e.JoinedAt, &status, &e.UpdatedAt); err != nil {
		return domain.WaitlistEntry{}, err
	}
	e.Status = domain.EntryStatus(status)
	e.JoinedAt = e.JoinedAt.UTC()
	e.UpdatedAt = e.UpdatedAt.UTC()
	return e, nil
}

func (m *MySQLAdapter) GetEntry(ctx context.Context, dropID, userID string) (*domain.WaitlistEntry, error) {
	e, err := scanEntry(m.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM waitlist_entries WHERE drop_id = ? AND user_id = ?`, dropID, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query entry: %w", err)
	}
	return &e, nil
}

func (m *MySQLAdapter) JoinEntry(ctx context.Context, dropID, userID string, now time.Time) (domain.WaitlistEntry, bool, error) {
	result, err := m.db.ExecContext(ctx, `
		INSERT IGNORE INTO waitlist_entries (`+entryColumns+`)
		VALUES (?, ?, ?, ?, ?)`,
		dropID, userID, now, domain.EntryStatusActive, now,
	)
	if err != nil {
		return domain.WaitlistEntry{}, false, fmt.Errorf("insert entry: %w", err)
	}
	inserted, _ := result.RowsAffected()

	if inserted == 0 {
		result, err = m.db.ExecContext(ctx, `
			UPDATE waitlist_entries SET status = ?, updated_at = ?
			WHERE drop_id = ? AND user_id = ? AND status = ?`,
			domain.EntryStatusActive, now, dropID, userID, domain.EntryStatusLeft,
		)
		if err != nil {
			return domain.WaitlistEntry{}, false, fmt.Errorf("reactivate entry: %w", err)
		}
		reactivated, _ := result.RowsAffected()
		inserted = reactivated
	}

	entry, err := m.GetEntry(ctx, dropID, userID)
	if err != nil {
		return domain.WaitlistEntry{}, false, err
	}
	if entry == nil {
		// INSERT IGNORE swallows the foreign key failure of a missing drop
		return domain.WaitlistEntry{}, false, port.ErrNotFound
	}
	return *entry, inserted == 0, nil
}

func (m *MySQLAdapter) LeaveEntry(ctx context.Context, dropID, userID string, now time.Time) (bool, error) {
	result, err := m.db.ExecContext(ctx, `
		UPDATE waitlist_entries SET status = ?, updated_at = ?
		WHERE drop_id = ? AND user_id = ? AND status = ?`,
		domain.EntryStatusLeft, now, dropID, userID, domain.EntryStatusActive,
	)
	if err != nil {
		return false, fmt.Errorf("leave entry: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 1 {
		return true, nil
	}

	entry, err := m.GetEntry(ctx, dropID, userID)
	if err != nil {
		return false, err
	}
	if entry != nil && entry.Status == domain.EntryStatusClaimed {
		return false, port.ErrEntryClaimed
	}
	return false, nil
}

func (m *MySQLAdapter) ListEntries(ctx context.Context, dropID string, status domain.EntryStatus) ([]domain.WaitlistEntry, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT `+entryColumns+` FROM waitlist_entries
		WHERE drop_id = ? AND status = ?
		ORDER BY user_id`, dropID, status)
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

func scanClaim(row rowScanner) (domain.ClaimRecord, error) {
	var c domain.ClaimRecord
	if err := row.Scan(&c.DropID, &c.UserID, &c.ClaimCode, &c.ClaimedAt); err != nil {
		return domain.ClaimRecord{}, err
	}
	c.ClaimedAt = c.ClaimedAt.UTC()
	return c, nil
}

func (m *MySQLAdapter) GetClaim(ctx context.Context, dropID, userID string) (*domain.ClaimRecord, error) {
	c, err := scanClaim(m.db.QueryRowContext(ctx, `
		SELECT drop_id, user_id, claim_code, claimed_at FROM claim_records
		WHERE drop_id = ? AND user_id = ?`, dropID, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query claim: %w", err)
	}
	return &c, nil
}

func (m *MySQLAdapter) ListClaims(ctx context.Context, dropID string) ([]domain.ClaimRecord, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT drop_id, user_id, claim_code, claimed_at FROM claim_records
		WHERE drop_id = ? ORDER BY claimed_at, user_id`, dropID)
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

func (m *MySQLAdapter) CommitClaim(ctx context.Context, claim domain.ClaimRecord, expectedRemaining int) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE drops
		SET remaining_stock = remaining_stock - 1, updated_at = ?
		WHERE id = ? AND remaining_stock = ? AND remaining_stock > 0`,
		claim.ClaimedAt, claim.DropID, expectedRemaining,
	)
	if err != nil {
		return fmt.Errorf("decrement stock: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return port.ErrStockConflict
	}

	result, err = tx.ExecContext(ctx, `
		UPDATE waitlist_entries SET status = ?, updated_at = ?
		WHERE drop_id = ? AND user_id = ? AND status = ?`,
		domain.EntryStatusClaimed, claim.ClaimedAt, claim.DropID, claim.UserID, domain.EntryStatusActive,
	)
	if err != nil {
		return fmt.Errorf("mark entry claimed: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return port.ErrEntryNotActive
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO claim_records (drop_id, user_id, claim_code, claimed_at)
		VALUES (?, ?, ?, ?)`,
		claim.DropID, claim.UserID, claim.ClaimCode, claim.ClaimedAt,
	)
	if isDuplicateEntry(err) {
		return port.ErrDuplicateClaim
	}
	if err != nil {
		return fmt.Errorf("insert claim: %w", err)
	}

	return tx.Commit()
}

func (m *MySQLAdapter) Ping(ctx context.Context) error {
	return m.db.PingContext(ctx)
}

func (m *MySQLAdapter) Close() error {
	return m.db.Close()
}
