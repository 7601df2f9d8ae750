package storage

import (
	"time"

	"github.com/uptrace/bun"
)

// Product is one sellable catalog item. SizeStock maps a size label to
// units on hand; a missing key means the size is not offered.
type Product struct {
	bun.BaseModel `bun:"table:products,alias:p"`

	ID          string         `bun:"id,pk" json:"id"`
	BoutiqueID  string         `bun:"boutique_id,notnull" json:"boutique_id"`
	Name        string         `bun:"name,notnull" json:"name"`
	Description string         `bun:"description" json:"description"`
	Category    string         `bun:"category" json:"category"`
	Color       string         `bun:"color" json:"color"`
	Style       string         `bun:"style" json:"style"`
	Occasion    string         `bun:"occasion" json:"occasion"`
	PriceKES    int64          `bun:"price_kes,notnull" json:"price_kes"`
	ImageURL    string         `bun:"image_url" json:"image_url"`
	SizeStock   map[string]int `bun:"size_stock,type:jsonb" json:"size_stock"`
	CreatedAt   time.Time      `bun:"created_at,nullzero,default:now()" json:"created_at"`
}

// Sizes lists the offered size labels, in-stock or not.
func (p *Product) Sizes() []string {
	sizes := make([]string, 0, len(p.SizeStock))
	for s := range p.SizeStock {
		sizes = append(sizes, s)
	}
	return sizes
}

type Customer struct {
	bun.BaseModel `bun:"table:customers,alias:c"`

	ID         string    `bun:"id,pk" json:"id"`
	BoutiqueID string    `bun:"boutique_id,notnull" json:"boutique_id"`
	Phone      string    `bun:"phone,notnull" json:"phone"`
	Name       string    `bun:"name" json:"name"`
	CreatedAt  time.Time `bun:"created_at,nullzero,default:now()" json:"created_at"`
}

type CartItem struct {
	bun.BaseModel `bun:"table:cart_items,alias:ci"`

	ID           int64     `bun:"id,pk,autoincrement" json:"id"`
	BoutiqueID   string    `bun:"boutique_id,notnull" json:"boutique_id"`
	CustomerID   string    `bun:"customer_id,notnull" json:"customer_id"`
	ProductID    string    `bun:"product_id,notnull" json:"product_id"`
	ProductName  string    `bun:"product_name,notnull" json:"product_name"`
	Size         string    `bun:"size,notnull" json:"size"`
	Quantity     int       `bun:"quantity,notnull" json:"quantity"`
	UnitPriceKES int64     `bun:"unit_price_kes,notnull" json:"unit_price_kes"`
	CreatedAt    time.Time `bun:"created_at,nullzero,default:now()" json:"created_at"`
}

// OrderLine is the immutable snapshot of one cart line at checkout time.
type OrderLine struct {
	ProductID    string `json:"product_id"`
	ProductName  string `json:"product_name"`
	Size         string `json:"size"`
	Quantity     int    `json:"quantity"`
	UnitPriceKES int64  `json:"unit_price_kes"`
}

const (
	OrderStatusPendingPayment = "pending_payment"
	OrderStatusPaid           = "paid"
	OrderStatusFailed         = "failed"
	OrderStatusFulfilled      = "fulfilled"
)

type Order struct {
	bun.BaseModel `bun:"table:orders,alias:o"`

	ID                int64       `bun:"id,pk,autoincrement" json:"id"`
	Reference         string      `bun:"reference,notnull,unique" json:"reference"`
	BoutiqueID        string      `bun:"boutique_id,notnull" json:"boutique_id"`
	CustomerID        string      `bun:"customer_id,notnull" json:"customer_id"`
	Lines             []OrderLine `bun:"lines,type:jsonb" json:"lines"`
	TotalKES          int64       `bun:"total_kes,notnull" json:"total_kes"`
	Status            string      `bun:"status,notnull,default:'pending_payment'" json:"status"`
	CheckoutRequestID string      `bun:"checkout_request_id" json:"checkout_request_id"`
	CreatedAt         time.Time   `bun:"created_at,nullzero,default:now()" json:"created_at"`
	UpdatedAt         time.Time   `bun:"updated_at,nullzero,default:now()" json:"updated_at"`
}

// Message is the durable transcript row kept for every inbound and
// outbound message, independent of the conversation checkpoint.
type Message struct {
	bun.BaseModel `bun:"table:messages,alias:m"`

	ID        int64     `bun:"id,pk,autoincrement" json:"id"`
	ThreadID  string    `bun:"thread_id,notnull" json:"thread_id"`
	Role      string    `bun:"role,notnull" json:"role"`
	Body      string    `bun:"body" json:"body"`
	MediaURL  string    `bun:"media_url" json:"media_url"`
	CreatedAt time.Time `bun:"created_at,nullzero,default:now()" json:"created_at"`
}
