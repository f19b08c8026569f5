package db

import (
	"time"

	"github.com/google/uuid"
)

// Transaction statuses. pending moves to success or failed and never back.
const (
	TxStatusPending = "pending"
	TxStatusSuccess = "success"
	TxStatusFailed  = "failed"
)

// MeterData is the last telemetry snapshot stored with a credential
type MeterData struct {
	Balance      float64 `json:"balance"`
	Reading      float64 `json:"reading"`
	SwitchState  string  `json:"switchState"`
	Connectivity string  `json:"connectivity"`
	ControlMode  string  `json:"controlMode"`
	Power        float64 `json:"power"`
}

// MeterCredential links a room to its IoT platform login
type MeterCredential struct {
	RoomNo         string
	MeterID        string
	ProjectID      string
	ProjectName    string
	Username       string
	PasswordHash   string
	Token          *string
	TokenExpiresAt *time.Time
	MeterData      *MeterData
	LastSyncAt     *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// HasLogin reports whether the record carries enough to call login
func (c *MeterCredential) HasLogin() bool {
	return c.Username != "" && c.PasswordHash != ""
}

// TokenValid reports whether the cached token may still be used at now
func (c *MeterCredential) TokenValid(now time.Time) bool {
	if c.Token == nil || *c.Token == "" || c.TokenExpiresAt == nil {
		return false
	}
	return now.Before(*c.TokenExpiresAt)
}

// PowerBreakdown is one entry of a per-project or per-meter power split
type PowerBreakdown struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Power float64 `json:"power"`
}

// PowerReading is one row of the live power time series
type PowerReading struct {
	ID               uuid.UUID
	RecordedAt       time.Time
	TotalPower       float64
	ActiveMeterCount int
	ByProject        []PowerBreakdown
	ByMeter          []PowerBreakdown
}

// Transaction is a customer recharge payment
type Transaction struct {
	ID            uuid.UUID
	Reference     string
	Gateway       string
	RoomNo        string
	MeterID       string
	AmountKobo    int64
	CustomerName  string
	CustomerEmail string
	CustomerPhone string
	Status        string
	SaleID        *string
	ErrorMessage  *string
	ProcessedAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Settled reports whether the transaction was already credited upstream
func (t *Transaction) Settled() bool {
	return t.Status == TxStatusSuccess && t.SaleID != nil && *t.SaleID != ""
}

// WebhookLog records one gateway delivery
type WebhookLog struct {
	ID             uuid.UUID
	Gateway        string
	Reference      string
	Event          string
	SignatureValid bool
	Payload        []byte
	Error          *string
	ReceivedAt     time.Time
}
