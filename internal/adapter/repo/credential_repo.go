package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"storyreel/internal/domain"
)

// CredentialRepositoryPG implements domain.CredentialRepository. The table
// holds at most one row per (user, provider); writes upsert.
type CredentialRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewCredentialRepository creates a credential repository backed by PostgreSQL.
func NewCredentialRepository(pool *pgxpool.Pool) *CredentialRepositoryPG {
	return &CredentialRepositoryPG{pool: pool}
}

// Upsert inserts or replaces the credential row for (user, provider).
func (r *CredentialRepositoryPG) Upsert(ctx context.Context, cred *domain.Credential) error {
	query := `
INSERT INTO credentials (user_id, provider, auth_mode, secret_ciphertext, access_ciphertext, refresh_ciphertext, expires_at, provider_metadata, config, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
ON CONFLICT (user_id, provider) DO UPDATE SET
    auth_mode = EXCLUDED.auth_mode,
    secret_ciphertext = EXCLUDED.secret_ciphertext,
    access_ciphertext = EXCLUDED.access_ciphertext,
    refresh_ciphertext = EXCLUDED.refresh_ciphertext,
    expires_at = EXCLUDED.expires_at,
    provider_metadata = EXCLUDED.provider_metadata,
    config = EXCLUDED.config,
    updated_at = NOW();
`
	_, err := r.pool.Exec(ctx, query,
		cred.UserID,
		cred.Provider,
		cred.AuthMode,
		cred.SecretCiphertext,
		cred.AccessCiphertext,
		cred.RefreshCiphertext,
		cred.ExpiresAt,
		nullableBytes(cred.ProviderMetadata),
		cred.Config,
	)
	return err
}

// Get fetches the credential for (user, provider).
func (r *CredentialRepositoryPG) Get(ctx context.Context, userID, provider string) (*domain.Credential, error) {
	query := `
SELECT user_id, provider, auth_mode, secret_ciphertext, access_ciphertext, refresh_ciphertext, expires_at, provider_metadata, config, created_at, updated_at
FROM credentials
WHERE user_id = $1 AND provider = $2;
`
	row := r.pool.QueryRow(ctx, query, userID, provider)
	var cred domain.Credential
	if err := row.Scan(
		&cred.UserID,
		&cred.Provider,
		&cred.AuthMode,
		&cred.SecretCiphertext,
		&cred.AccessCiphertext,
		&cred.RefreshCiphertext,
		&cred.ExpiresAt,
		&cred.ProviderMetadata,
		&cred.Config,
		&cred.CreatedAt,
		&cred.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: credential %s/%s", domain.ErrNotFound, userID, provider)
		}
		return nil, err
	}
	return &cred, nil
}

// Delete removes the credential row. Deleting an absent row is not an error.
func (r *CredentialRepositoryPG) Delete(ctx context.Context, userID, provider string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM credentials WHERE user_id = $1 AND provider = $2;`, userID, provider)
	return err
}

// ListProviders returns the provider ids the user holds credentials for.
func (r *CredentialRepositoryPG) ListProviders(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT provider FROM credentials WHERE user_id = $1 ORDER BY provider;`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var providers []string
	for rows.Next() {
		var provider string
		if err := rows.Scan(&provider); err != nil {
			return nil, err
		}
		providers = append(providers, provider)
	}
	return providers, rows.Err()
}
