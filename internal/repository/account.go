// Package repository provides the PostgreSQL persistence layer for accounts.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/atinyakov/accounts/internal/models"
	"github.com/lib/pq"
)

// uniqueViolation is the SQLSTATE Postgres reports for a unique constraint breach.
const uniqueViolation = "23505"

const accountColumns = `id, username, email, name, password_hash, verification_token, verified, created_at`

// PostgresAccountRepository implements account persistence on PostgreSQL.
// It is the only authoritative source of whether an account exists.
type PostgresAccountRepository struct {
	// DB is the database handle for executing queries.
	DB *sql.DB
}

// NewPostgresAccountRepository creates a repository on the given connection.
func NewPostgresAccountRepository(db *sql.DB) *PostgresAccountRepository {
	return &PostgresAccountRepository{DB: db}
}

func scanAccount(row interface{ Scan(...any) error }) (*models.Account, error) {
	var (
		acc   models.Account
		token sql.NullString
	)
	err := row.Scan(&acc.ID, &acc.Username, &acc.Email, &acc.Name,
		&acc.PasswordHash, &token, &acc.Verified, &acc.CreatedAt)
	if err != nil {
		return nil, err
	}
	if token.Valid {
		acc.VerificationToken = &token.String
	}
	return &acc, nil
}

// FindByUsername returns the account with the given username, or an error
// wrapping models.ErrNotFound if there is none.
func (r *PostgresAccountRepository) FindByUsername(ctx context.Context, username string) (*models.Account, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE username = $1`,
		username,
	)
	acc, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("find account %q: %w", username, models.ErrNotFound)
		}
		return nil, fmt.Errorf("find account: %w: %w", models.ErrDependency, err)
	}
	return acc, nil
}

// Insert stores a new account and returns it with the generated ID and
// creation time. A duplicate username surfaces as models.ErrConflict.
func (r *PostgresAccountRepository) Insert(ctx context.Context, acc *models.Account) (*models.Account, error) {
	row := r.DB.QueryRowContext(ctx, `
		INSERT INTO accounts (username, email, name, password_hash, verification_token, verified)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`,
		acc.Username, acc.Email, acc.Name, acc.PasswordHash, acc.VerificationToken, acc.Verified,
	)

	created := *acc
	if err := row.Scan(&created.ID, &created.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("insert account %q: %w", acc.Username, models.ErrConflict)
		}
		return nil, fmt.Errorf("insert account: %w: %w", models.ErrDependency, err)
	}
	return &created, nil
}

// Delete removes the account with the given username. It returns an error
// wrapping models.ErrNotFound when no row was deleted.
func (r *PostgresAccountRepository) Delete(ctx context.Context, username string) error {
	return r.execDelete(ctx, username,
		`DELETE FROM accounts WHERE username = $1`, username)
}

// DeleteUnverifiedBefore removes the account only while it is still
// unverified and was created before cutoff. An account verified or
// re-registered since it was listed is left alone and reported as
// models.ErrNotFound.
func (r *PostgresAccountRepository) DeleteUnverifiedBefore(ctx context.Context, username string, cutoff time.Time) error {
	return r.execDelete(ctx, username,
		`DELETE FROM accounts WHERE username = $1 AND verified = false AND created_at < $2`,
		username, cutoff)
}

func (r *PostgresAccountRepository) execDelete(ctx context.Context, username, query string, args ...any) error {
	res, err := r.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("delete account: %w: %w", models.ErrDependency, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete account: %w: %w", models.ErrDependency, err)
	}
	if n == 0 {
		return fmt.Errorf("delete account %q: %w", username, models.ErrNotFound)
	}
	return nil
}

// UpdateVerification sets the verified flag and pending token of account id.
func (r *PostgresAccountRepository) UpdateVerification(ctx context.Context, id int64, verified bool, token *string) error {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE accounts SET verified = $2, verification_token = $3 WHERE id = $1`,
		id, verified, token,
	)
	if err != nil {
		return fmt.Errorf("update verification: %w: %w", models.ErrDependency, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update verification: %w: %w", models.ErrDependency, err)
	}
	if n == 0 {
		return fmt.Errorf("update verification of %d: %w", id, models.ErrNotFound)
	}
	return nil
}

// ListUsernames returns up to limit usernames ordered lexically and strictly
// greater than after. Pass an empty after for the first page.
func (r *PostgresAccountRepository) ListUsernames(ctx context.Context, after string, limit int) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT username FROM accounts WHERE username > $1 ORDER BY username LIMIT $2`,
		after, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list usernames: %w: %w", models.ErrDependency, err)
	}
	return collectUsernames(rows)
}

// ListUnverifiedBefore returns up to limit usernames of unverified accounts
// created before cutoff.
func (r *PostgresAccountRepository) ListUnverifiedBefore(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT username FROM accounts WHERE verified = false AND created_at < $1 ORDER BY created_at LIMIT $2`,
		cutoff, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list unverified: %w: %w", models.ErrDependency, err)
	}
	return collectUsernames(rows)
}

func collectUsernames(rows *sql.Rows) ([]string, error) {
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan: %w: %w", models.ErrDependency, err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w: %w", models.ErrDependency, err)
	}
	return names, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == uniqueViolation
	}
	return false
}
