// Package storage is the relational layer behind the catalog, carts and
// orders. It talks Postgres through bun; everything above it goes through
// the Store interface so tests can swap in fixtures.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

var (
	ErrProductNotFound  = errors.New("product not found")
	ErrOrderNotFound    = errors.New("order not found")
	ErrCartItemNotFound = errors.New("cart item not found")
)

type Config struct {
	DSN          string        `split_words:"true" required:"true"`
	MaxOpenConns int           `split_words:"true" default:"8"`
	ConnTimeout  time.Duration `split_words:"true" default:"5s"`
}

// ProductQuery narrows a catalog search. Empty fields are ignored; Text
// matches name and description.
type ProductQuery struct {
	Text        string
	Category    string
	Color       string
	Occasion    string
	Style       string
	MaxPriceKES int64
	Limit       int
}

type Store struct {
	db *bun.DB
}

func New(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("storage: dsn is required")
	}

	connector := pgdriver.NewConnector(
		pgdriver.WithDSN(cfg.DSN),
		pgdriver.WithTimeout(cfg.ConnTimeout),
	)
	sqldb := sql.OpenDB(connector)
	sqldb.SetMaxOpenConns(cfg.MaxOpenConns)

	return &Store{db: bun.NewDB(sqldb, pgdialect.New())}, nil
}

func MustNew(cfg Config) *Store {
	store, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return store
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SearchProducts returns catalog items for one boutique matching the
// query, newest first. Limit defaults to 5 to keep chat replies short.
func (s *Store) SearchProducts(ctx context.Context, boutiqueID string, q ProductQuery) ([]Product, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 5
	}

	query := s.db.NewSelect().
		Model((*Product)(nil)).
		Where("p.boutique_id = ?", boutiqueID).
		Limit(limit).
		OrderExpr("p.created_at DESC")

	if text := strings.TrimSpace(q.Text); text != "" {
		pattern := "%" + text + "%"
		query = query.Where("(p.name ILIKE ? OR p.description ILIKE ? OR p.category ILIKE ?)", pattern, pattern, pattern)
	}
	if q.Category != "" {
		query = query.Where("p.category ILIKE ?", q.Category)
	}
	if q.Color != "" {
		query = query.Where("p.color ILIKE ?", q.Color)
	}
	if q.Occasion != "" {
		query = query.Where("p.occasion ILIKE ?", q.Occasion)
	}
	if q.Style != "" {
		query = query.Where("p.style ILIKE ?", q.Style)
	}
	if q.MaxPriceKES > 0 {
		query = query.Where("p.price_kes <= ?", q.MaxPriceKES)
	}

	var products []Product
	if err := query.Scan(ctx, &products); err != nil {
		return nil, fmt.Errorf("storage: search products: %w", err)
	}
	return products, nil
}

func (s *Store) GetProduct(ctx context.Context, boutiqueID, productID string) (*Product, error) {
	product := new(Product)
	err := s.db.NewSelect().
		Model(product).
		Where("p.boutique_id = ?", boutiqueID).
		Where("p.id = ?", productID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get product: %w", err)
	}
	return product, nil
}

// CheckInventory reports units on hand for one size of one product.
func (s *Store) CheckInventory(ctx context.Context, boutiqueID, productID, size string) (int, error) {
	product, err := s.GetProduct(ctx, boutiqueID, productID)
	if err != nil {
		return 0, err
	}
	return product.SizeStock[strings.ToUpper(strings.TrimSpace(size))], nil
}

// AddCartItem upserts a cart line. The same product in the same size
// accumulates quantity instead of duplicating the row.
func (s *Store) AddCartItem(ctx context.Context, item *CartItem) error {
	if item.Quantity <= 0 {
		item.Quantity = 1
	}

	_, err := s.db.NewInsert().
		Model(item).
		On("CONFLICT (boutique_id, customer_id, product_id, size) DO UPDATE").
		Set("quantity = ci.quantity + EXCLUDED.quantity").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("storage: add cart item: %w", err)
	}
	return nil
}

func (s *Store) CartItems(ctx context.Context, boutiqueID, customerID string) ([]CartItem, error) {
	var items []CartItem
	err := s.db.NewSelect().
		Model(&items).
		Where("ci.boutique_id = ?", boutiqueID).
		Where("ci.customer_id = ?", customerID).
		OrderExpr("ci.created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("storage: cart items: %w", err)
	}
	return items, nil
}

func (s *Store) RemoveCartItem(ctx context.Context, boutiqueID, customerID, productID string) error {
	res, err := s.db.NewDelete().
		Model((*CartItem)(nil)).
		Where("boutique_id = ?", boutiqueID).
		Where("customer_id = ?", customerID).
		Where("product_id = ?", productID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("storage: remove cart item: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrCartItemNotFound
	}
	return nil
}

func (s *Store) ClearCart(ctx context.Context, boutiqueID, customerID string) error {
	_, err := s.db.NewDelete().
		Model((*CartItem)(nil)).
		Where("boutique_id = ?", boutiqueID).
		Where("customer_id = ?", customerID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("storage: clear cart: %w", err)
	}
	return nil
}

// CreateOrder snapshots the cart into an order and empties the cart in
// one transaction.
func (s *Store) CreateOrder(ctx context.Context, order *Order) error {
	return s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(order).Exec(ctx); err != nil {
			return fmt.Errorf("storage: create order: %w", err)
		}
		_, err := tx.NewDelete().
			Model((*CartItem)(nil)).
			Where("boutique_id = ?", order.BoutiqueID).
			Where("customer_id = ?", order.CustomerID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("storage: clear cart after order: %w", err)
		}
		return nil
	})
}

func (s *Store) GetOrderByReference(ctx context.Context, boutiqueID, reference string) (*Order, error) {
	order := new(Order)
	err := s.db.NewSelect().
		Model(order).
		Where("o.boutique_id = ?", boutiqueID).
		Where("o.reference = ?", reference).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get order: %w", err)
	}
	return order, nil
}

func (s *Store) ListOrders(ctx context.Context, boutiqueID, customerID string, limit int) ([]Order, error) {
	if limit <= 0 {
		limit = 5
	}
	var orders []Order
	err := s.db.NewSelect().
		Model(&orders).
		Where("o.boutique_id = ?", boutiqueID).
		Where("o.customer_id = ?", customerID).
		OrderExpr("o.created_at DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("storage: list orders: %w", err)
	}
	return orders, nil
}

// UpdateOrderPayment records the aggregator's checkout id and the new
// payment status for an order.
func (s *Store) UpdateOrderPayment(ctx context.Context, boutiqueID, reference, checkoutRequestID, status string) error {
	res, err := s.db.NewUpdate().
		Model((*Order)(nil)).
		Set("checkout_request_id = ?", checkoutRequestID).
		Set("status = ?", status).
		Set("updated_at = now()").
		Where("boutique_id = ?", boutiqueID).
		Where("reference = ?", reference).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("storage: update order payment: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// GetOrCreateCustomer resolves a customer by phone, creating the record
// on first contact.
func (s *Store) GetOrCreateCustomer(ctx context.Context, boutiqueID, phone, name string) (*Customer, error) {
	customer := new(Customer)
	err := s.db.NewSelect().
		Model(customer).
		Where("c.boutique_id = ?", boutiqueID).
		Where("c.phone = ?", phone).
		Scan(ctx)
	if err == nil {
		return customer, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("storage: lookup customer: %w", err)
	}

	customer = &Customer{
		ID:         customerID(boutiqueID, phone),
		BoutiqueID: boutiqueID,
		Phone:      phone,
		Name:       name,
	}
	_, err = s.db.NewInsert().
		Model(customer).
		On("CONFLICT (boutique_id, phone) DO UPDATE").
		Set("name = COALESCE(NULLIF(EXCLUDED.name, ''), c.name)").
		Returning("*").
		Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("storage: create customer: %w", err)
	}
	return customer, nil
}

func (s *Store) AppendMessage(ctx context.Context, msg *Message) error {
	if _, err := s.db.NewInsert().Model(msg).Exec(ctx); err != nil {
		return fmt.Errorf("storage: append message: %w", err)
	}
	return nil
}

func customerID(boutiqueID, phone string) string {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, phone)
	return boutiqueID + ":" + digits
}
