package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/agentpay/internal/storage"
)

const entryColumns = `id::text, seq, wallet_id::text, amount::text, currency, status, kind,
        COALESCE(provider, ''), COALESCE(idempotency_key, ''), COALESCE(reference_id::text, ''),
        COALESCE(recipient, ''), COALESCE(reason, ''), intent, result, description, created_at`

// PostgresLedger persists entries in PostgreSQL. Rows are insert-only; the
// schema rejects UPDATE and DELETE with a trigger.
type PostgresLedger struct {
	db   *pgxpool.Pool
	opts options
}

// NewPostgresLedger constructs a Postgres-backed ledger implementation.
func NewPostgresLedger(db *pgxpool.Pool, opts ...Option) *PostgresLedger {
	return &PostgresLedger{db: db, opts: buildOptions(opts)}
}

// Append inserts entry, joining the transaction carried by ctx if any.
func (l *PostgresLedger) Append(ctx context.Context, entry Entry) (Entry, error) {
	if err := validate(entry); err != nil {
		return Entry{}, err
	}
	entry.ID = uuid.New().String()
	entry.CreatedAt = l.opts.now().UTC().Truncate(time.Microsecond)

	intent, err := encodePayload(entry.Intent)
	if err != nil {
		return Entry{}, fmt.Errorf("encode intent: %w", err)
	}
	result, err := encodePayload(entry.Result)
	if err != nil {
		return Entry{}, fmt.Errorf("encode result: %w", err)
	}

	const query = `INSERT INTO ledger_entries
        (id, wallet_id, amount, currency, status, kind, provider, idempotency_key, reference_id,
         recipient, reason, intent, result, description, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
        RETURNING seq`
	err = storage.Conn(ctx, l.db).QueryRow(ctx, query,
		entry.ID, entry.WalletID, entry.Amount.String(), entry.Currency, string(entry.Status), string(entry.Kind),
		nullable(entry.Provider), nullable(entry.IdempotencyKey), nullable(entry.ReferenceID),
		nullable(entry.Recipient), nullable(entry.Reason), intent, result, entry.Description, entry.CreatedAt,
	).Scan(&entry.Sequence)
	if err != nil {
		if storage.IsPgCode(err, storage.CodeUniqueViolation) {
			return Entry{}, ErrDuplicateRequest
		}
		return Entry{}, err
	}
	return entry, nil
}

// Get returns a single entry.
func (l *PostgresLedger) Get(ctx context.Context, id string) (Entry, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Entry{}, ErrNotFound
	}
	row := storage.Conn(ctx, l.db).QueryRow(ctx, `SELECT `+entryColumns+` FROM ledger_entries WHERE id = $1`, id)
	e, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	return e, err
}

// History returns a page of a wallet's entries, newest first.
func (l *PostgresLedger) History(ctx context.Context, walletID string, limit, offset int) ([]Entry, error) {
	limit, offset, err := l.opts.page(limit, offset)
	if err != nil {
		return nil, err
	}
	if _, err := uuid.Parse(walletID); err != nil {
		return []Entry{}, nil
	}
	rows, err := storage.Conn(ctx, l.db).Query(ctx, `SELECT `+entryColumns+` FROM ledger_entries
        WHERE wallet_id = $1 ORDER BY created_at DESC, seq DESC LIMIT $2 OFFSET $3`, walletID, limit, offset)
	if err != nil {
		return nil, err
	}
	return collectEntries(rows)
}

// Attempt returns the opening entry for idempotencyKey followed by every entry
// that references it, oldest first.
func (l *PostgresLedger) Attempt(ctx context.Context, idempotencyKey string) ([]Entry, error) {
	rows, err := storage.Conn(ctx, l.db).Query(ctx, `WITH opening AS (
            SELECT id FROM ledger_entries WHERE idempotency_key = $1
        )
        SELECT `+entryColumns+` FROM ledger_entries
        WHERE id IN (SELECT id FROM opening) OR reference_id IN (SELECT id FROM opening)
        ORDER BY created_at, seq`, idempotencyKey)
	if err != nil {
		return nil, err
	}
	entries, err := collectEntries(rows)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, ErrNotFound
	}
	return entries, nil
}

// Outflow sums completed debits and unresolved pending debits since since.
func (l *PostgresLedger) Outflow(ctx context.Context, walletID string, since time.Time) (decimal.Decimal, error) {
	const query = `SELECT COALESCE(SUM(-e.amount), 0)::text FROM ledger_entries e
        WHERE e.wallet_id = $1 AND e.kind = 'debit' AND e.created_at >= $2
          AND (e.status = 'completed'
               OR (e.status = 'pending' AND NOT EXISTS (
                    SELECT 1 FROM ledger_entries f WHERE f.reference_id = e.id)))`
	var total string
	if err := storage.Conn(ctx, l.db).QueryRow(ctx, query, walletID, since.UTC()).Scan(&total); err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(total)
}

func collectEntries(rows pgx.Rows) ([]Entry, error) {
	defer rows.Close()
	entries := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanEntry(row pgx.Row) (Entry, error) {
	var (
		e              Entry
		amount         string
		status, kind   string
		intent, result []byte
	)
	if err := row.Scan(&e.ID, &e.Sequence, &e.WalletID, &amount, &e.Currency, &status, &kind,
		&e.Provider, &e.IdempotencyKey, &e.ReferenceID, &e.Recipient, &e.Reason,
		&intent, &result, &e.Description, &e.CreatedAt); err != nil {
		return Entry{}, err
	}
	parsed, err := decimal.NewFromString(amount)
	if err != nil {
		return Entry{}, fmt.Errorf("parse amount: %w", err)
	}
	e.Amount = parsed
	e.Status = Status(status)
	e.Kind = Kind(kind)
	e.CreatedAt = e.CreatedAt.UTC()
	if e.Intent, err = decodePayload(intent); err != nil {
		return Entry{}, fmt.Errorf("decode intent: %w", err)
	}
	if e.Result, err = decodePayload(result); err != nil {
		return Entry{}, fmt.Errorf("decode result: %w", err)
	}
	return e, nil
}

func encodePayload(payload map[string]any) ([]byte, error) {
	if payload == nil {
		return nil, nil
	}
	return json.Marshal(payload)
}

func decodePayload(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
