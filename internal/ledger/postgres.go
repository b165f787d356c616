package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/punchamoorthee/agentcash/internal/domain"
)

// Postgres keeps balances in ledger_accounts and records every movement in
// ledger_transfers and ledger_entries.
type Postgres struct {
	db     *pgxpool.Pool
	limits Limits
}

func NewPostgres(db *pgxpool.Pool, limits Limits) *Postgres {
	return &Postgres{db: db, limits: limits}
}

// Transfer applies the legs in one transaction with deterministic locking.
func (s *Postgres) Transfer(ctx context.Context, key string, legs []domain.Leg) error {
	if err := Validate(legs); err != nil {
		return err
	}
	hash := HashLegs(legs)

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	// 1. Idempotency check
	if err := replayed(ctx, tx, key, hash); err != nil {
		return err
	}

	// 2. Key reservation. A concurrent holder of the same key makes us wait
	// here until it commits or rolls back.
	var transferID int64
	err = tx.QueryRow(ctx,
		"INSERT INTO ledger_transfers (idempotency_key, legs_hash) VALUES ($1, $2) RETURNING id",
		key, hash,
	).Scan(&transferID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			tx.Rollback(ctx)
			if rerr := replayed(ctx, s.db, key, hash); rerr != nil {
				return rerr
			}
		}
		return fmt.Errorf("key reservation failed: %w", err)
	}

	// 3. Deterministic locking in (account, book) order
	keys, deltas := netDeltas(legs)
	for _, k := range keys {
		if _, err := tx.Exec(ctx,
			"INSERT INTO ledger_accounts (account, book) VALUES ($1, $2) ON CONFLICT DO NOTHING",
			k.Account, k.Book,
		); err != nil {
			return fmt.Errorf("account open failed: %w", err)
		}
	}
	positions := make(map[bookKey]position, len(keys))
	for _, k := range keys {
		var p position
		err := tx.QueryRow(ctx,
			"SELECT balance, activated FROM ledger_accounts WHERE account = $1 AND book = $2 FOR UPDATE",
			k.Account, k.Book,
		).Scan(&p.Balance, &p.Activated)
		if err != nil {
			return fmt.Errorf("lock acquisition failed: %w", err)
		}
		positions[k] = p
	}

	// 4. Balance rules
	for _, k := range keys {
		if err := s.limits.check(k, positions[k], deltas[k]); err != nil {
			return err
		}
	}

	// 5. Entries and balances
	batch := &pgx.Batch{}
	for _, l := range legs {
		batch.Queue(
			"INSERT INTO ledger_entries (transfer_id, account, book, delta) VALUES ($1, $2, $3, $4)",
			transferID, l.Account, l.Book, l.Delta(),
		)
	}
	for _, k := range keys {
		batch.Queue(
			"UPDATE ledger_accounts SET balance = balance + $1, activated = activated OR ($3 = 'FLOAT' AND $1 > 0), updated_at = now() WHERE account = $2 AND book = $3",
			deltas[k], k.Account, k.Book,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("ledger entry failed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("tx commit failed: %w", err)
	}
	return nil
}

func (s *Postgres) Balance(ctx context.Context, account domain.AccountRef, book domain.Book) (int64, error) {
	var balance int64
	err := s.db.QueryRow(ctx,
		"SELECT balance FROM ledger_accounts WHERE account = $1 AND book = $2",
		account, book,
	).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return balance, err
}

// Applied reports whether a transfer under key has been committed.
func (s *Postgres) Applied(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM ledger_transfers WHERE idempotency_key = $1)", key,
	).Scan(&exists)
	return exists, err
}

// Credit funds a book outside any request, for seeding and admin top-ups.
func (s *Postgres) Credit(ctx context.Context, key string, account domain.AccountRef, book domain.Book, amount int64) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		"INSERT INTO ledger_transfers (idempotency_key, legs_hash) VALUES ($1, 'seed') ON CONFLICT DO NOTHING", key)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyApplied
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO ledger_accounts (account, book, balance, activated) VALUES ($1, $2, $3, $2 = 'FLOAT')
		ON CONFLICT (account, book) DO UPDATE SET balance = ledger_accounts.balance + EXCLUDED.balance,
			activated = ledger_accounts.activated OR EXCLUDED.activated, updated_at = now()`,
		account, book, amount)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// replayed returns nil only when key has never been applied.
func replayed(ctx context.Context, q queryRower, key, hash string) error {
	var stored string
	err := q.QueryRow(ctx, "SELECT legs_hash FROM ledger_transfers WHERE idempotency_key = $1", key).Scan(&stored)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil
	case err != nil:
		return fmt.Errorf("idempotency query failed: %w", err)
	case stored != hash:
		return ErrIdempotencyMismatch
	default:
		return ErrAlreadyApplied
	}
}
