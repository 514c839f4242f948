package querying

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// OrderStatus is stored by name.
type OrderStatus string

const (
	StatusNew        OrderStatus = "NEW"
	StatusPending    OrderStatus = "PENDING"
	StatusConfirmed  OrderStatus = "CONFIRMED"
	StatusProcessing OrderStatus = "PROCESSING"
	StatusShipped    OrderStatus = "SHIPPED"
	StatusDelivered  OrderStatus = "DELIVERED"
	StatusCancelled  OrderStatus = "CANCELLED"
	StatusRefunded   OrderStatus = "REFUNDED"
)

// Order owns its items: they are saved with it and removed with it.
type Order struct {
	bun.BaseModel `bun:"table:orders,alias:o"`

	ID              int64           `bun:"id,pk,autoincrement" json:"id"`
	CustomerEmail   string          `bun:"customer_email,notnull" json:"customerEmail"`
	OrderDate       time.Time       `bun:"order_date,notnull" json:"orderDate"`
	TotalAmount     decimal.Decimal `bun:"total_amount,notnull,type:decimal(10,2)" json:"totalAmount"`
	Status          OrderStatus     `bun:"status,notnull" json:"status"`
	ShippingAddress string          `bun:"shipping_address,notnull" json:"shippingAddress"`
	Items           []*OrderItem    `bun:"rel:has-many,join:id=order_id" json:"items"`
	Notes           string          `bun:"notes,nullzero" json:"notes,omitempty"`
	Paid            bool            `bun:"paid,notnull" json:"paid"`
	TrackingNumber  string          `bun:"tracking_number,nullzero" json:"trackingNumber,omitempty"`
}

func (o *Order) PrimaryKey() any { return o.ID }

// AddItem appends an item and keeps both sides of the association in sync.
func (o *Order) AddItem(item *OrderItem) {
	item.Order = o
	item.OrderID = o.ID
	o.Items = append(o.Items, item)
}

// recalculate sets every item total to quantity times unit price, and the
// order total to the sum of the items.
func (o *Order) recalculate() {
	total := decimal.Zero
	for _, item := range o.Items {
		item.TotalPrice = item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))
		total = total.Add(item.TotalPrice)
	}
	o.TotalAmount = total
}

// OrderItem is a line of an order.
type OrderItem struct {
	bun.BaseModel `bun:"table:order_items,alias:oi"`

	ID          int64           `bun:"id,pk,autoincrement" json:"id"`
	OrderID     int64           `bun:"order_id,notnull" json:"orderId"`
	Order       *Order          `bun:"rel:belongs-to,join:order_id=id" json:"-"`
	ProductSKU  string          `bun:"product_sku,notnull" json:"productSku"`
	ProductName string          `bun:"product_name,notnull" json:"productName"`
	Quantity    int             `bun:"quantity,notnull" json:"quantity"`
	UnitPrice   decimal.Decimal `bun:"unit_price,notnull,type:decimal(10,2)" json:"unitPrice"`
	TotalPrice  decimal.Decimal `bun:"total_price,notnull,type:decimal(10,2)" json:"totalPrice"`
}

func (i *OrderItem) PrimaryKey() any { return i.ID }

// OrderStatistics is one row of the daily aggregate.
type OrderStatistics struct {
	Day          string          `bun:"day" json:"day"`
	TotalOrders  int64           `bun:"total_orders" json:"totalOrders"`
	TotalRevenue decimal.Decimal `bun:"total_revenue" json:"totalRevenue"`
}

// CustomerTotal is one row of the per customer aggregate.
type CustomerTotal struct {
	CustomerEmail string          `bun:"customer_email" json:"customerEmail"`
	Orders        int64           `bun:"orders" json:"orders"`
	Total         decimal.Decimal `bun:"total" json:"total"`
}
