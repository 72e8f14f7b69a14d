// internal/models/product.go
package models

import (
	"github.com/google/uuid"
	"github.com/lib/pq"
)

type Product struct {
	BaseModel
	FarmerID    uuid.UUID      `json:"farmer_id" gorm:"type:uuid;not null;index"`
	Name        string         `json:"name" gorm:"size:255;not null"`
	Description string         `json:"description" gorm:"type:text"`
	Category    string         `json:"category" gorm:"size:100;index"`
	Price       float64        `json:"price" gorm:"type:decimal(10,2);not null"`
	Quantity    int            `json:"quantity" gorm:"default:0"`
	Unit        string         `json:"unit" gorm:"size:20;default:'kg'"`
	Images      pq.StringArray `json:"images" gorm:"type:text[]"`
	Status      ProductStatus  `json:"status" gorm:"type:varchar(20);default:'available';index"`
	Location    string         `json:"location" gorm:"size:255"`

	// Relationships
	Farmer User    `json:"farmer,omitempty" gorm:"foreignKey:FarmerID"`
	Orders []Order `json:"orders,omitempty" gorm:"foreignKey:ProductID"`
}
