package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/agentpay/internal/storage"
)

// Repository persists wallets. GetForUpdate and ApplyDelta only work inside a
// storage transaction carried by ctx.
type Repository interface {
	Create(ctx context.Context, wallet Wallet) error
	Get(ctx context.Context, id string) (Wallet, error)
	GetByOwner(ctx context.Context, ownerID string) (Wallet, error)
	GetForUpdate(ctx context.Context, id string) (Wallet, error)
	ApplyDelta(ctx context.Context, id string, delta decimal.Decimal) (Wallet, error)
}

const walletColumns = `id, owner_id, balance::text, currency, created_at, updated_at`

// PostgresRepository stores wallets in PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a repository backed by PostgreSQL.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts a wallet record.
func (r *PostgresRepository) Create(ctx context.Context, wallet Wallet) error {
	walletID, err := uuid.Parse(wallet.ID)
	if err != nil {
		return fmt.Errorf("parse wallet id: %w", err)
	}
	_, err = storage.Conn(ctx, r.db).Exec(ctx, `INSERT INTO wallets (id, owner_id, balance, currency, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6)`,
		walletID, wallet.OwnerID, wallet.Balance.String(), wallet.Currency, wallet.CreatedAt.UTC(), wallet.UpdatedAt.UTC())
	if storage.IsPgCode(err, storage.CodeUniqueViolation) {
		return ErrDuplicateOwner
	}
	return err
}

// Get fetches a wallet by identifier.
func (r *PostgresRepository) Get(ctx context.Context, id string) (Wallet, error) {
	walletID, err := uuid.Parse(id)
	if err != nil {
		return Wallet{}, ErrNotFound
	}
	row := storage.Conn(ctx, r.db).QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = $1`, walletID)
	return scanWallet(row)
}

// GetByOwner fetches the wallet held by ownerID.
func (r *PostgresRepository) GetByOwner(ctx context.Context, ownerID string) (Wallet, error) {
	row := storage.Conn(ctx, r.db).QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE owner_id = $1`, ownerID)
	return scanWallet(row)
}

// GetForUpdate locks the wallet row until the enclosing transaction ends.
func (r *PostgresRepository) GetForUpdate(ctx context.Context, id string) (Wallet, error) {
	tx, ok := storage.PgTx(ctx)
	if !ok {
		return Wallet{}, storage.ErrNoTransaction
	}
	walletID, err := uuid.Parse(id)
	if err != nil {
		return Wallet{}, ErrNotFound
	}
	row := tx.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = $1 FOR UPDATE`, walletID)
	return scanWallet(row)
}

// ApplyDelta adds delta to the locked wallet's balance.
func (r *PostgresRepository) ApplyDelta(ctx context.Context, id string, delta decimal.Decimal) (Wallet, error) {
	// FOR UPDATE here is a no-op when the caller already holds the lock and
	// keeps the read consistent when it does not.
	current, err := r.GetForUpdate(ctx, id)
	if err != nil {
		return Wallet{}, err
	}
	next := current.Balance.Add(delta)
	if next.IsNegative() {
		return Wallet{}, ErrInsufficientFunds
	}

	tx, _ := storage.PgTx(ctx)
	row := tx.QueryRow(ctx, `UPDATE wallets SET balance = $2, updated_at = $3 WHERE id = $1
        RETURNING `+walletColumns, uuid.MustParse(current.ID), next.String(), time.Now().UTC())
	w, err := scanWallet(row)
	if storage.IsPgCode(err, storage.CodeCheckViolation) {
		return Wallet{}, ErrInsufficientFunds
	}
	return w, err
}

func scanWallet(row pgx.Row) (Wallet, error) {
	var (
		w       Wallet
		idVal   uuid.UUID
		balance string
	)
	if err := row.Scan(&idVal, &w.OwnerID, &balance, &w.Currency, &w.CreatedAt, &w.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Wallet{}, ErrNotFound
		}
		return Wallet{}, err
	}
	amount, err := decimal.NewFromString(balance)
	if err != nil {
		return Wallet{}, fmt.Errorf("parse balance: %w", err)
	}
	w.ID = idVal.String()
	w.Balance = amount
	w.CreatedAt = w.CreatedAt.UTC()
	w.UpdatedAt = w.UpdatedAt.UTC()
	return w, nil
}
