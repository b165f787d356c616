package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/punchamoorthee/agentcash/internal/domain"
)

const (
	pgUniqueViolation = "23505"

	referenceConstraint        = "cash_requests_reference_key"
	liveCancellationConstraint = "cash_requests_live_cancellation"
)

const requestColumns = `id, reference, kind, schema_version, requester, requester_role, counterparty, counterparty_role,
	amount, fee, platform_bps, platform_share, counterparty_share, status, code_hash, sealed_code, code_consumed_at,
	original_request_id, message, response_note, created_at, expires_at, responded_at`

// Postgres persists requests in the cash_requests table.
type Postgres struct {
	db *pgxpool.Pool
}

func NewPostgres(db *pgxpool.Pool) *Postgres {
	return &Postgres{db: db}
}

func (s *Postgres) Insert(ctx context.Context, r *domain.Request) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO cash_requests (`+requestColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)`,
		r.ID, r.Reference, r.Kind, r.SchemaVersion, r.Requester, r.RequesterRole, r.Counterparty, r.CounterpartyRole,
		r.Amount, r.Fee, r.FeeSplit.PlatformBps, r.FeeSplit.PlatformShare, r.FeeSplit.CounterpartyShare, r.Status,
		r.CodeHash, nullString(r.SealedCode), r.CodeConsumedAt,
		r.OriginalRequestID, r.Message, r.ResponseNote, r.CreatedAt, r.ExpiresAt, r.RespondedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			switch pgErr.ConstraintName {
			case referenceConstraint:
				return ErrDuplicateReference
			case liveCancellationConstraint:
				return ErrLiveCancellation
			}
		}
		return fmt.Errorf("insert request: %w", err)
	}
	return nil
}

func (s *Postgres) Get(ctx context.Context, id uuid.UUID) (*domain.Request, error) {
	row := s.db.QueryRow(ctx, `SELECT `+requestColumns+` FROM cash_requests WHERE id = $1`, id)
	return scanOne(row)
}

func (s *Postgres) GetByReference(ctx context.Context, reference string) (*domain.Request, error) {
	row := s.db.QueryRow(ctx, `SELECT `+requestColumns+` FROM cash_requests WHERE reference = $1`, reference)
	return scanOne(row)
}

func (s *Postgres) ListPendingFor(ctx context.Context, counterparty domain.AccountRef, now time.Time) ([]*domain.Request, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+requestColumns+` FROM cash_requests
		WHERE counterparty = $1 AND status = 'PENDING' AND expires_at > $2
		ORDER BY created_at`, counterparty, now)
	if err != nil {
		return nil, err
	}
	return scanAll(rows)
}

func (s *Postgres) ListFor(ctx context.Context, requester domain.AccountRef) ([]*domain.Request, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+requestColumns+` FROM cash_requests
		WHERE requester = $1
		ORDER BY created_at DESC`, requester)
	if err != nil {
		return nil, err
	}
	return scanAll(rows)
}

func (s *Postgres) ListOverdue(ctx context.Context, now time.Time, limit int) ([]*domain.Request, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+requestColumns+` FROM cash_requests
		WHERE status = 'PENDING' AND expires_at <= $1
		ORDER BY expires_at
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, err
	}
	return scanAll(rows)
}

func (s *Postgres) FindLiveCancellation(ctx context.Context, original uuid.UUID) (*domain.Request, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+requestColumns+` FROM cash_requests
		WHERE original_request_id = $1 AND status IN ('PENDING', 'APPROVED')`, original)
	return scanOne(row)
}

// UpdateStatus moves a request from one status to another only if the stored
// status still equals from. The row-level compare-and-swap is the only guard
// against two actors finalizing the same request.
func (s *Postgres) UpdateStatus(ctx context.Context, id uuid.UUID, from, to domain.Status, t domain.Transition) (*domain.Request, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE cash_requests SET
			status = $3,
			responded_at = $4,
			response_note = CASE WHEN $5 <> '' THEN $5 ELSE response_note END,
			code_consumed_at = CASE WHEN $6 THEN $4 ELSE code_consumed_at END,
			sealed_code = NULL
		WHERE id = $1 AND status = $2
		RETURNING `+requestColumns,
		id, from, to, t.At, t.ResponseNote, t.ConsumeCode,
	)
	r, err := scanOne(row)
	if errors.Is(err, ErrNotFound) {
		var exists bool
		if qerr := s.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM cash_requests WHERE id = $1)`, id).Scan(&exists); qerr != nil {
			return nil, qerr
		}
		if exists {
			return nil, ErrStatusMismatch
		}
	}
	return r, err
}

func scanOne(row pgx.Row) (*domain.Request, error) {
	r, err := scanRequest(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

func scanAll(rows pgx.Rows) ([]*domain.Request, error) {
	defer rows.Close()
	var out []*domain.Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanRequest(row pgx.Row) (*domain.Request, error) {
	var (
		r      domain.Request
		sealed *string
	)
	err := row.Scan(
		&r.ID, &r.Reference, &r.Kind, &r.SchemaVersion, &r.Requester, &r.RequesterRole, &r.Counterparty, &r.CounterpartyRole,
		&r.Amount, &r.Fee, &r.FeeSplit.PlatformBps, &r.FeeSplit.PlatformShare, &r.FeeSplit.CounterpartyShare, &r.Status,
		&r.CodeHash, &sealed, &r.CodeConsumedAt,
		&r.OriginalRequestID, &r.Message, &r.ResponseNote, &r.CreatedAt, &r.ExpiresAt, &r.RespondedAt,
	)
	if err != nil {
		return nil, err
	}
	if sealed != nil {
		r.SealedCode = *sealed
	}
	return &r, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
