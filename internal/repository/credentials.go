package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/resocorp/ArmogridPaaS-sub000/internal/db"
)

const credentialColumns = `
	room_no, meter_id, project_id, project_name, username, password_hash,
	token, token_expires_at, meter_data, last_sync_at, created_at, updated_at
`

func scanCredential(row pgx.Row) (*db.MeterCredential, error) {
	var (
		cred    db.MeterCredential
		rawData []byte
	)
	err := row.Scan(
		&cred.RoomNo,
		&cred.MeterID,
		&cred.ProjectID,
		&cred.ProjectName,
		&cred.Username,
		&cred.PasswordHash,
		&cred.Token,
		&cred.TokenExpiresAt,
		&rawData,
		&cred.LastSyncAt,
		&cred.CreatedAt,
		&cred.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(rawData) > 0 {
		var data db.MeterData
		if err := json.Unmarshal(rawData, &data); err != nil {
			return nil, fmt.Errorf("failed to decode meter_data for room %s: %w", cred.RoomNo, err)
		}
		cred.MeterData = &data
	}
	return &cred, nil
}

// ListCredentials returns every linked meter credential
func (r *Repository) ListCredentials(ctx context.Context) ([]db.MeterCredential, error) {
	query := `SELECT ` + credentialColumns + ` FROM meter_credentials ORDER BY room_no`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query credentials: %w", err)
	}
	defer rows.Close()

	var creds []db.MeterCredential
	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan credential: %w", err)
		}
		creds = append(creds, *cred)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return creds, nil
}

// GetCredential returns the credential for a room
func (r *Repository) GetCredential(ctx context.Context, roomNo string) (*db.MeterCredential, error) {
	query := `SELECT ` + credentialColumns + ` FROM meter_credentials WHERE room_no = $1`

	cred, err := scanCredential(r.pool.QueryRow(ctx, query, roomNo))
	if err != nil {
		return nil, fmt.Errorf("failed to get credential %s: %w", roomNo, notFound(err))
	}
	return cred, nil
}

// GetCredentialByMeter returns the credential linked to an upstream meter id
func (r *Repository) GetCredentialByMeter(ctx context.Context, meterID string) (*db.MeterCredential, error) {
	query := `SELECT ` + credentialColumns + ` FROM meter_credentials WHERE meter_id = $1 LIMIT 1`

	cred, err := scanCredential(r.pool.QueryRow(ctx, query, meterID))
	if err != nil {
		return nil, fmt.Errorf("failed to get credential for meter %s: %w", meterID, notFound(err))
	}
	return cred, nil
}

// UpsertCredential links or relinks a room. The cached token is cleared so the
// next use logs in with the new credentials.
func (r *Repository) UpsertCredential(ctx context.Context, cred *db.MeterCredential) error {
	query := `
		INSERT INTO meter_credentials (
			room_no, meter_id, project_id, project_name, username, password_hash,
			token, token_expires_at, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, NULL, NULL, $7, $7)
		ON CONFLICT (room_no) DO UPDATE SET
			meter_id = EXCLUDED.meter_id,
			project_id = EXCLUDED.project_id,
			project_name = EXCLUDED.project_name,
			username = EXCLUDED.username,
			password_hash = EXCLUDED.password_hash,
			token = NULL,
			token_expires_at = NULL,
			updated_at = EXCLUDED.updated_at
	`

	_, err := r.pool.Exec(ctx, query,
		cred.RoomNo,
		cred.MeterID,
		cred.ProjectID,
		cred.ProjectName,
		cred.Username,
		cred.PasswordHash,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert credential: %w", err)
	}
	return nil
}

// UpdateToken stores a freshly issued session token
func (r *Repository) UpdateToken(ctx context.Context, roomNo, token string, expiresAt time.Time) error {
	query := `
		UPDATE meter_credentials
		SET token = $2, token_expires_at = $3, updated_at = now()
		WHERE room_no = $1
	`

	tag, err := r.pool.Exec(ctx, query, roomNo, token, expiresAt)
	if err != nil {
		return fmt.Errorf("failed to update token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("failed to update token for %s: %w", roomNo, ErrNotFound)
	}
	return nil
}

// UpdateSnapshot overwrites the telemetry snapshot if last_sync_at still holds
// the value the caller read.
func (r *Repository) UpdateSnapshot(ctx context.Context, roomNo string, data db.MeterData, syncedAt time.Time, prevSyncAt *time.Time) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode meter data: %w", err)
	}

	query := `
		UPDATE meter_credentials
		SET meter_data = $2, last_sync_at = $3, updated_at = now()
		WHERE room_no = $1 AND last_sync_at IS NOT DISTINCT FROM $4
	`

	tag, err := r.pool.Exec(ctx, query, roomNo, raw, syncedAt, prevSyncAt)
	if err != nil {
		return fmt.Errorf("failed to update snapshot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("snapshot for %s: %w", roomNo, ErrConcurrentUpdate)
	}
	return nil
}
