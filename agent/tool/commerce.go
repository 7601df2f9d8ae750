package tool

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	contractx "github.com/dukalink/dukalink/agent/contract"
	"github.com/dukalink/dukalink/pkg/paylink"
	"github.com/dukalink/dukalink/storage"
)

// Catalog is the read side of the product database.
type Catalog interface {
	SearchProducts(ctx context.Context, boutiqueID string, q storage.ProductQuery) ([]storage.Product, error)
	GetProduct(ctx context.Context, boutiqueID, productID string) (*storage.Product, error)
	CheckInventory(ctx context.Context, boutiqueID, productID, size string) (int, error)
}

// Carts mutates and reads the customer's cart.
type Carts interface {
	AddCartItem(ctx context.Context, item *storage.CartItem) error
	CartItems(ctx context.Context, boutiqueID, customerID string) ([]storage.CartItem, error)
	RemoveCartItem(ctx context.Context, boutiqueID, customerID, productID string) error
}

// Orders creates and reads orders.
type Orders interface {
	CreateOrder(ctx context.Context, order *storage.Order) error
	GetOrderByReference(ctx context.Context, boutiqueID, reference string) (*storage.Order, error)
	ListOrders(ctx context.Context, boutiqueID, customerID string, limit int) ([]storage.Order, error)
	UpdateOrderPayment(ctx context.Context, boutiqueID, reference, checkoutRequestID, status string) error
}

// Payments fires and polls M-Pesa STK pushes.
type Payments interface {
	InitiateSTKPush(ctx context.Context, phone string, amountKES int64, reference string) (paylink.STKResult, error)
	CheckStatus(ctx context.Context, checkoutRequestID string) (paylink.STKResult, error)
}

// NewRegistry wires the full commerce tool set. All nine tools are
// always registered; a nil backend is a programming error, not a config
// choice.
func NewRegistry(catalog Catalog, carts Carts, orders Orders, payments Payments) (*Registry, error) {
	if catalog == nil || carts == nil || orders == nil || payments == nil {
		return nil, errors.New("tool: all backends are required")
	}

	c := &commerce{catalog: catalog, carts: carts, orders: orders, payments: payments, now: time.Now}
	r := &Registry{specs: map[string]toolSpec{}}

	r.register(toolSpec{name: "search_products", run: c.searchProducts})
	r.register(toolSpec{name: "add_to_cart", required: []string{"product_id", "size"}, run: c.addToCart})
	r.register(toolSpec{name: "get_cart", run: c.getCart})
	r.register(toolSpec{name: "remove_from_cart", required: []string{"product_id"}, run: c.removeFromCart})
	r.register(toolSpec{name: "check_inventory", required: []string{"product_id", "size"}, run: c.checkInventory})
	r.register(toolSpec{name: "initiate_payment", run: c.initiatePayment})
	r.register(toolSpec{name: "check_payment_status", required: []string{"order_reference"}, run: c.checkPaymentStatus})
	r.register(toolSpec{name: "get_order_status", required: []string{"order_reference"}, run: c.getOrderStatus})
	r.register(toolSpec{name: "get_customer_orders", run: c.getCustomerOrders})

	return r, nil
}

type commerce struct {
	catalog  Catalog
	carts    Carts
	orders   Orders
	payments Payments
	now      func() time.Time
}

// ProductSummary is the tool-facing projection of a catalog row.
type ProductSummary struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Color    string   `json:"color"`
	Category string   `json:"category"`
	PriceKES int64    `json:"price_kes"`
	Sizes    []string `json:"sizes"`
	ImageURL string   `json:"image_url,omitempty"`
}

// CartView is what the models and composers see of a cart.
type CartView struct {
	Lines    []CartLineView `json:"lines"`
	TotalKES int64          `json:"total_kes"`
}

type CartLineView struct {
	ProductID    string `json:"product_id"`
	ProductName  string `json:"product_name"`
	Size         string `json:"size"`
	Quantity     int    `json:"quantity"`
	UnitPriceKES int64  `json:"unit_price_kes"`
}

func (c *commerce) searchProducts(ctx context.Context, args map[string]any, tctx contractx.ToolContext) (any, error) {
	q := storage.ProductQuery{
		Text:        stringArg(args, "query"),
		Category:    stringArg(args, "category"),
		Color:       stringArg(args, "color"),
		Occasion:    stringArg(args, "occasion"),
		Style:       stringArg(args, "style"),
		MaxPriceKES: int64Arg(args, "max_price", 0),
		Limit:       intArg(args, "limit", 5),
	}

	products, err := c.catalog.SearchProducts(ctx, tctx.BoutiqueID, q)
	if err != nil {
		return nil, fmt.Errorf("search products: %w", err)
	}

	summaries := make([]ProductSummary, 0, len(products))
	for _, p := range products {
		summaries = append(summaries, summarize(p))
	}
	return summaries, nil
}

func (c *commerce) addToCart(ctx context.Context, args map[string]any, tctx contractx.ToolContext) (any, error) {
	productID := stringArg(args, "product_id")
	size := strings.ToUpper(stringArg(args, "size"))
	quantity := intArg(args, "quantity", 1)

	product, err := c.catalog.GetProduct(ctx, tctx.BoutiqueID, productID)
	if err != nil {
		return nil, fmt.Errorf("add to cart: %w", err)
	}

	stock, offered := product.SizeStock[size]
	if !offered {
		return nil, fmt.Errorf("size %s is not offered for %s", size, product.Name)
	}
	if stock < quantity {
		return nil, fmt.Errorf("only %d left of %s in size %s", stock, product.Name, size)
	}

	item := &storage.CartItem{
		BoutiqueID:   tctx.BoutiqueID,
		CustomerID:   tctx.CustomerID,
		ProductID:    product.ID,
		ProductName:  product.Name,
		Size:         size,
		Quantity:     quantity,
		UnitPriceKES: product.PriceKES,
	}
	if err := c.carts.AddCartItem(ctx, item); err != nil {
		return nil, fmt.Errorf("add to cart: %w", err)
	}

	return c.cartView(ctx, tctx)
}

func (c *commerce) getCart(ctx context.Context, _ map[string]any, tctx contractx.ToolContext) (any, error) {
	return c.cartView(ctx, tctx)
}

func (c *commerce) removeFromCart(ctx context.Context, args map[string]any, tctx contractx.ToolContext) (any, error) {
	productID := stringArg(args, "product_id")
	if err := c.carts.RemoveCartItem(ctx, tctx.BoutiqueID, tctx.CustomerID, productID); err != nil {
		return nil, fmt.Errorf("remove from cart: %w", err)
	}
	return c.cartView(ctx, tctx)
}

func (c *commerce) checkInventory(ctx context.Context, args map[string]any, tctx contractx.ToolContext) (any, error) {
	productID := stringArg(args, "product_id")
	size := stringArg(args, "size")

	stock, err := c.catalog.CheckInventory(ctx, tctx.BoutiqueID, productID, size)
	if err != nil {
		return nil, fmt.Errorf("check inventory: %w", err)
	}
	return map[string]any{
		"product_id": productID,
		"size":       strings.ToUpper(strings.TrimSpace(size)),
		"in_stock":   stock > 0,
		"units":      stock,
	}, nil
}

// initiatePayment snapshots the cart into an order and fires the STK
// push. An empty cart is an error; no payment request leaves this method
// without at least one line to pay for.
func (c *commerce) initiatePayment(ctx context.Context, _ map[string]any, tctx contractx.ToolContext) (any, error) {
	items, err := c.carts.CartItems(ctx, tctx.BoutiqueID, tctx.CustomerID)
	if err != nil {
		return nil, fmt.Errorf("initiate payment: %w", err)
	}
	if len(items) == 0 {
		return nil, errors.New("cart is empty, nothing to pay for")
	}

	var total int64
	lines := make([]storage.OrderLine, 0, len(items))
	for _, item := range items {
		total += item.UnitPriceKES * int64(item.Quantity)
		lines = append(lines, storage.OrderLine{
			ProductID:    item.ProductID,
			ProductName:  item.ProductName,
			Size:         item.Size,
			Quantity:     item.Quantity,
			UnitPriceKES: item.UnitPriceKES,
		})
	}

	order := &storage.Order{
		Reference:  fmt.Sprintf("ORD%d", c.now().Unix()),
		BoutiqueID: tctx.BoutiqueID,
		CustomerID: tctx.CustomerID,
		Lines:      lines,
		TotalKES:   total,
		Status:     storage.OrderStatusPendingPayment,
	}
	if err := c.orders.CreateOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("initiate payment: %w", err)
	}

	push, err := c.payments.InitiateSTKPush(ctx, tctx.Phone, total, order.Reference)
	if err != nil {
		// The order stands; payment can be retried by reference.
		return nil, fmt.Errorf("order %s created but payment request failed: %w", order.Reference, err)
	}

	if err := c.orders.UpdateOrderPayment(ctx, tctx.BoutiqueID, order.Reference, push.CheckoutRequestID, storage.OrderStatusPendingPayment); err != nil {
		return nil, fmt.Errorf("initiate payment: %w", err)
	}

	return map[string]any{
		"order_reference":     order.Reference,
		"total_kes":           total,
		"checkout_request_id": push.CheckoutRequestID,
		"status":              push.Status,
	}, nil
}

func (c *commerce) checkPaymentStatus(ctx context.Context, args map[string]any, tctx contractx.ToolContext) (any, error) {
	reference := stringArg(args, "order_reference")

	order, err := c.orders.GetOrderByReference(ctx, tctx.BoutiqueID, reference)
	if err != nil {
		return nil, fmt.Errorf("check payment status: %w", err)
	}
	if order.CheckoutRequestID == "" {
		return map[string]any{"order_reference": reference, "status": order.Status}, nil
	}

	push, err := c.payments.CheckStatus(ctx, order.CheckoutRequestID)
	if err != nil {
		return nil, fmt.Errorf("check payment status: %w", err)
	}

	if push.Status == paylink.StatusCompleted && order.Status != storage.OrderStatusPaid {
		if err := c.orders.UpdateOrderPayment(ctx, tctx.BoutiqueID, reference, order.CheckoutRequestID, storage.OrderStatusPaid); err != nil {
			return nil, fmt.Errorf("check payment status: %w", err)
		}
		order.Status = storage.OrderStatusPaid
	}

	return map[string]any{
		"order_reference": reference,
		"status":          order.Status,
		"payment_status":  push.Status,
		"message":         push.Message,
	}, nil
}

func (c *commerce) getOrderStatus(ctx context.Context, args map[string]any, tctx contractx.ToolContext) (any, error) {
	reference := stringArg(args, "order_reference")

	order, err := c.orders.GetOrderByReference(ctx, tctx.BoutiqueID, reference)
	if err != nil {
		return nil, fmt.Errorf("get order status: %w", err)
	}
	return map[string]any{
		"order_reference": order.Reference,
		"status":          order.Status,
		"total_kes":       order.TotalKES,
		"lines":           order.Lines,
		"created_at":      order.CreatedAt,
	}, nil
}

func (c *commerce) getCustomerOrders(ctx context.Context, args map[string]any, tctx contractx.ToolContext) (any, error) {
	limit := intArg(args, "limit", 5)

	orders, err := c.orders.ListOrders(ctx, tctx.BoutiqueID, tctx.CustomerID, limit)
	if err != nil {
		return nil, fmt.Errorf("get customer orders: %w", err)
	}

	out := make([]map[string]any, 0, len(orders))
	for _, order := range orders {
		out = append(out, map[string]any{
			"order_reference": order.Reference,
			"status":          order.Status,
			"total_kes":       order.TotalKES,
			"created_at":      order.CreatedAt,
		})
	}
	return out, nil
}

func (c *commerce) cartView(ctx context.Context, tctx contractx.ToolContext) (CartView, error) {
	items, err := c.carts.CartItems(ctx, tctx.BoutiqueID, tctx.CustomerID)
	if err != nil {
		return CartView{}, fmt.Errorf("read cart: %w", err)
	}

	view := CartView{Lines: make([]CartLineView, 0, len(items))}
	for _, item := range items {
		view.TotalKES += item.UnitPriceKES * int64(item.Quantity)
		view.Lines = append(view.Lines, CartLineView{
			ProductID:    item.ProductID,
			ProductName:  item.ProductName,
			Size:         item.Size,
			Quantity:     item.Quantity,
			UnitPriceKES: item.UnitPriceKES,
		})
	}
	return view, nil
}

func summarize(p storage.Product) ProductSummary {
	sizes := p.Sizes()
	sort.Strings(sizes)
	return ProductSummary{
		ID:       p.ID,
		Name:     p.Name,
		Color:    p.Color,
		Category: p.Category,
		PriceKES: p.PriceKES,
		Sizes:    sizes,
		ImageURL: p.ImageURL,
	}
}
