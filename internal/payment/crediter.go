package payment

import (
	"context"
	"fmt"

	"github.com/resocorp/ArmogridPaaS-sub000/internal/db"
)

// TokenSource yields a session token for a linked room
type TokenSource interface {
	TokenFor(ctx context.Context, roomNo string) (*db.MeterCredential, string, error)
}

// Recharger performs the upstream credit call
type Recharger interface {
	Recharge(ctx context.Context, meterID string, amount float64, token string) (string, error)
}

// MeterCrediter credits meters with the room's own platform session
type MeterCrediter struct {
	tokens   TokenSource
	platform Recharger
}

func NewMeterCrediter(tokens TokenSource, platform Recharger) *MeterCrediter {
	return &MeterCrediter{tokens: tokens, platform: platform}
}

// Credit tops up the transaction's meter by its amount in naira
func (c *MeterCrediter) Credit(ctx context.Context, txn *db.Transaction) (string, error) {
	_, token, err := c.tokens.TokenFor(ctx, txn.RoomNo)
	if err != nil {
		return "", fmt.Errorf("failed to get token for room %s: %w", txn.RoomNo, err)
	}
	saleID, err := c.platform.Recharge(ctx, txn.MeterID, KoboToNaira(txn.AmountKobo), token)
	if err != nil {
		return "", fmt.Errorf("failed to recharge meter %s: %w", txn.MeterID, err)
	}
	return saleID, nil
}
