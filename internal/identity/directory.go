// Package identity resolves a handle supplied by a caller (account ref, phone
// number or public id) to the account behind it.
package identity

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/punchamoorthee/agentcash/internal/domain"
)

var ErrUnknownAccount = errors.New("identity: unknown account")

var phoneSeparators = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "")

// NormalizeHandle strips the separators people type into phone numbers.
// Handles that are not phone numbers once stripped are only trimmed.
func NormalizeHandle(handle string) string {
	h := strings.TrimSpace(handle)
	if p := phoneSeparators.Replace(h); isPhone(p) {
		return p
	}
	return h
}

// isPhone reports whether s is digits with an optional leading plus.
func isPhone(s string) bool {
	s = strings.TrimPrefix(s, "+")
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// Postgres reads the accounts table maintained by the identity service.
type Postgres struct {
	db *pgxpool.Pool
}

func NewPostgres(db *pgxpool.Pool) *Postgres {
	return &Postgres{db: db}
}

func (d *Postgres) Resolve(ctx context.Context, handle string) (domain.Account, error) {
	var a domain.Account
	var phone, publicID *string
	err := d.db.QueryRow(ctx, `
		SELECT ref, role, phone, public_id, active, suspended, created_at
		FROM accounts
		WHERE ref = $1 OR phone = $1 OR public_id = $1
		ORDER BY (ref = $1) DESC
		LIMIT 1`, NormalizeHandle(handle),
	).Scan(&a.Ref, &a.Role, &phone, &publicID, &a.Active, &a.Suspended, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Account{}, ErrUnknownAccount
	}
	if err != nil {
		return domain.Account{}, err
	}
	if phone != nil {
		a.Phone = *phone
	}
	if publicID != nil {
		a.PublicID = *publicID
	}
	return a, nil
}

// Upsert registers or refreshes an account; used by the seeder.
func (d *Postgres) Upsert(ctx context.Context, a domain.Account) error {
	_, err := d.db.Exec(ctx, `
		INSERT INTO accounts (ref, role, phone, public_id, active, suspended)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6)
		ON CONFLICT (ref) DO UPDATE SET role = EXCLUDED.role, phone = EXCLUDED.phone,
			public_id = EXCLUDED.public_id, active = EXCLUDED.active, suspended = EXCLUDED.suspended`,
		a.Ref, a.Role, a.Phone, a.PublicID, a.Active, a.Suspended)
	return err
}

type Memory struct {
	mu       sync.RWMutex
	accounts map[domain.AccountRef]domain.Account
}

func NewMemory(accounts ...domain.Account) *Memory {
	m := &Memory{accounts: make(map[domain.AccountRef]domain.Account)}
	for _, a := range accounts {
		m.Put(a)
	}
	return m
}

func (m *Memory) Put(a domain.Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[a.Ref] = a
}

func (m *Memory) Resolve(_ context.Context, handle string) (domain.Account, error) {
	h := NormalizeHandle(handle)
	m.mu.RLock()
	defer m.mu.RUnlock()
	if a, ok := m.accounts[domain.AccountRef(h)]; ok {
		return a, nil
	}
	for _, a := range m.accounts {
		if (a.Phone != "" && a.Phone == h) || (a.PublicID != "" && a.PublicID == h) {
			return a, nil
		}
	}
	return domain.Account{}, ErrUnknownAccount
}
