package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/resocorp/ArmogridPaaS-sub000/internal/db"
)

// WithLockedTransaction runs fn while holding a row lock on the transaction
// identified by reference. When fn returns nil the mutated status, sale id,
// error and processed time are written back before the lock is released;
// otherwise everything is rolled back.
func (r *Repository) WithLockedTransaction(ctx context.Context, reference string, fn func(txn *db.Transaction) error) error {
	tx, err := r.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		SELECT id, reference, gateway, room_no, meter_id, amount_kobo,
			customer_name, customer_email, customer_phone, status, sale_id,
			error_message, processed_at, created_at, updated_at
		FROM transactions
		WHERE reference = $1
		FOR UPDATE
	`

	var txn db.Transaction
	err = tx.QueryRow(ctx, query, reference).Scan(
		&txn.ID,
		&txn.Reference,
		&txn.Gateway,
		&txn.RoomNo,
		&txn.MeterID,
		&txn.AmountKobo,
		&txn.CustomerName,
		&txn.CustomerEmail,
		&txn.CustomerPhone,
		&txn.Status,
		&txn.SaleID,
		&txn.ErrorMessage,
		&txn.ProcessedAt,
		&txn.CreatedAt,
		&txn.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to lock transaction %s: %w", reference, notFound(err))
	}

	if err := fn(&txn); err != nil {
		return err
	}

	update := `
		UPDATE transactions
		SET status = $2, sale_id = $3, error_message = $4, processed_at = $5, updated_at = $6
		WHERE id = $1
	`
	if _, err := tx.Exec(ctx, update, txn.ID, txn.Status, txn.SaleID, txn.ErrorMessage, txn.ProcessedAt, time.Now()); err != nil {
		return fmt.Errorf("failed to update transaction: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// InsertWebhookLog appends a gateway delivery record
func (r *Repository) InsertWebhookLog(ctx context.Context, entry *db.WebhookLog) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}

	query := `
		INSERT INTO webhook_logs (id, gateway, reference, event, signature_valid, payload, error, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.pool.Exec(ctx, query,
		entry.ID,
		entry.Gateway,
		entry.Reference,
		entry.Event,
		entry.SignatureValid,
		entry.Payload,
		entry.Error,
		entry.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert webhook log: %w", err)
	}
	return nil
}
