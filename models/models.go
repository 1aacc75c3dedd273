package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// ContractStatus is the lifecycle state of a deposit contract. Transitions
// are one-way; paid, cancelled and expired are terminal.
type ContractStatus string

const (
	StatusPending             ContractStatus = "pending"
	StatusWaitingConfirmation ContractStatus = "waiting_confirmation"
	StatusPaid                ContractStatus = "paid"
	StatusCancelled           ContractStatus = "cancelled"
	StatusExpired             ContractStatus = "expired"
)

// Terminal reports whether no further transition may leave s.
func (s ContractStatus) Terminal() bool {
	return s == StatusPaid || s == StatusCancelled || s == StatusExpired
}

// PaymentChannel selects the rail a deposit is paid over.
type PaymentChannel string

const (
	ChannelWallet PaymentChannel = "wallet"
	ChannelCard   PaymentChannel = "card"
	ChannelBank   PaymentChannel = "bank_transfer"
)

// DepositContract is one escrow agreement between a tenant and a landlord
// for a property. The contract code is the external key; the numeric ID
// never leaves the service. Rows are never deleted: cancellation and
// expiry are status transitions.
type DepositContract struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"-"`

	ContractCode string `gorm:"size:64;uniqueIndex;not null" json:"contract_code"`

	TenantID     uint   `gorm:"not null;index" json:"tenant_id"`
	LandlordID   uint   `gorm:"not null;index" json:"landlord_id"`
	PropertyID   uint   `gorm:"not null;index" json:"property_id"`
	TenantName   string `gorm:"size:128" json:"tenant_name"`
	LandlordName string `gorm:"size:128" json:"landlord_name"`
	PropertyName string `gorm:"size:191" json:"property_name"`

	Amount  decimal.Decimal `gorm:"type:decimal(15,2);not null" json:"amount"`
	Channel PaymentChannel  `gorm:"size:20;not null" json:"channel"`

	Status        ContractStatus `gorm:"size:32;not null;default:'pending';index" json:"status"`
	ExpiresAt     time.Time      `gorm:"not null;index" json:"expires_at"`
	PaidAt        *time.Time     `json:"paid_at,omitempty"`
	TransactionID *string        `gorm:"size:191" json:"transaction_id,omitempty"`

	// Instruction snapshot, generated once at creation and never rewritten.
	QRPayload   string         `gorm:"type:text" json:"qr_payload"`
	PaymentURL  string         `gorm:"type:text" json:"payment_url"`
	AccountInfo datatypes.JSON `json:"account_info"`

	// Set once by the side-effect dispatcher after confirmation.
	DocumentURL *string `gorm:"type:text" json:"document_url,omitempty"`
}

func (DepositContract) TableName() string {
	return "deposit_contracts"
}

// PaymentAttempt is the append-only audit trail. Every lifecycle transition
// appends exactly one row; rows are never updated or deleted. The contract
// status column is the authoritative state, this log is forensic.
type PaymentAttempt struct {
	ID         uint `gorm:"primaryKey" json:"-"`
	ContractID uint `gorm:"not null;index" json:"-"`

	Amount  decimal.Decimal `gorm:"type:decimal(15,2)" json:"amount"`
	Channel PaymentChannel  `gorm:"size:20" json:"channel"`

	// Free-text tag mirroring the transition that produced the row:
	// pending, waiting_confirmation, paid, cancelled, expired, failed.
	Status string `gorm:"size:32;not null" json:"status"`

	GatewayResponse datatypes.JSON `json:"gateway_response,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}

func (PaymentAttempt) TableName() string {
	return "payment_attempts"
}
