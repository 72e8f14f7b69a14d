// internal/models/delivery.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// DeliveryProof holds the handshake state for proving physical delivery of an
// order. Only the digests of the short code and QR token are stored; the
// plaintexts are returned to the generator exactly once. ConfirmedAt, once
// set, is never cleared.
type DeliveryProof struct {
	BaseModel
	OrderID     uuid.UUID  `json:"order_id" gorm:"type:uuid;not null;uniqueIndex"`
	CodeHash    string     `json:"-" gorm:"size:64;not null"`
	TokenHash   string     `json:"-" gorm:"size:64;not null"`
	GeneratedBy uuid.UUID  `json:"generated_by" gorm:"type:uuid;not null"`
	ConfirmedBy *uuid.UUID `json:"confirmed_by,omitempty" gorm:"type:uuid"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
	GPSLocation string     `json:"gps_location,omitempty" gorm:"size:255"`
	ChainTxHash string     `json:"chain_tx_hash,omitempty" gorm:"size:66"`

	// Relationships
	Order Order `json:"order,omitempty" gorm:"foreignKey:OrderID"`
}

func (p *DeliveryProof) IsConfirmed() bool {
	return p.ConfirmedAt != nil
}
