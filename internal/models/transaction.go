// internal/models/transaction.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// Transaction is the payment-side record for an order, one per order. The
// provider reference is the idempotency key for webhook reconciliation and is
// unique once assigned. Once the status leaves pending the record is
// immutable except for the attestation backfill fields.
type Transaction struct {
	BaseModel
	OrderID     uuid.UUID         `json:"order_id" gorm:"type:uuid;not null;uniqueIndex"`
	Amount      float64           `json:"amount" gorm:"type:decimal(10,2);not null"`
	Currency    string            `json:"currency" gorm:"size:10;default:'KES'"`
	Provider    string            `json:"provider" gorm:"size:50;not null"`
	ProviderRef string            `json:"provider_ref" gorm:"size:255;index"`
	Status      TransactionStatus `json:"status" gorm:"type:varchar(20);default:'pending';index"`
	// Raw provider payload kept verbatim for audit; never parsed as trusted input.
	RawPayload   JSONB      `json:"raw_payload,omitempty" gorm:"type:jsonb"`
	ChainTxHash  string     `json:"chain_tx_hash,omitempty" gorm:"size:66"`
	ChainBlock   *int64     `json:"chain_block,omitempty"`
	ProcessedAt  *time.Time `json:"processed_at"`
	FailedReason string     `json:"failed_reason,omitempty" gorm:"type:text"`

	// Relationships
	Order Order `json:"order,omitempty" gorm:"foreignKey:OrderID"`
}

// IsTerminal reports whether the transaction has reached a final status.
// Terminal states are sticky: a later webhook never overwrites them.
func (t *Transaction) IsTerminal() bool {
	return t.Status == TransactionStatusCompleted || t.Status == TransactionStatusFailed
}
