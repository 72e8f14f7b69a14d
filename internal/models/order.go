// internal/models/order.go
package models

import (
	"github.com/google/uuid"
)

// Order is the entity the fulfillment core revolves around. Its status is
// mutated exclusively through the order service's transition table; quantity
// and total price are fixed at creation except for the cancellation path,
// which restores the reserved product quantity.
type Order struct {
	BaseModel
	BuyerID    uuid.UUID   `json:"buyer_id" gorm:"type:uuid;not null;index"`
	FarmerID   uuid.UUID   `json:"farmer_id" gorm:"type:uuid;not null;index"`
	ProductID  uuid.UUID   `json:"product_id" gorm:"type:uuid;not null;index"`
	Quantity   int         `json:"quantity" gorm:"not null"`
	TotalPrice float64     `json:"total_price" gorm:"type:decimal(10,2);not null"`
	Status     OrderStatus `json:"status" gorm:"type:varchar(20);default:'pending';index"`
	Notes      string      `json:"notes,omitempty" gorm:"type:text"`

	// Relationships
	Buyer       User           `json:"buyer,omitempty" gorm:"foreignKey:BuyerID"`
	Farmer      User           `json:"farmer,omitempty" gorm:"foreignKey:FarmerID"`
	Product     Product        `json:"product,omitempty" gorm:"foreignKey:ProductID"`
	Transaction *Transaction   `json:"transaction,omitempty" gorm:"foreignKey:OrderID"`
	Proof       *DeliveryProof `json:"proof,omitempty" gorm:"foreignKey:OrderID"`
}
