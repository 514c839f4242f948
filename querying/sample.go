package querying

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var sampleStatuses = []OrderStatus{StatusNew, StatusPending, StatusNew, StatusShipped, StatusDelivered}

// SampleOrders returns five orders placed on the days before now, each with
// two items. The result only depends on now.
func SampleOrders(now time.Time) []*Order {
	now = now.UTC().Truncate(time.Second)
	orders := make([]*Order, 0, len(sampleStatuses))
	for i := 1; i <= len(sampleStatuses); i++ {
		status := sampleStatuses[i-1]
		o := &Order{
			CustomerEmail:   fmt.Sprintf("customer%d@example.com", (i+1)%3+1),
			OrderDate:       now.AddDate(0, 0, -i),
			Status:          status,
			ShippingAddress: fmt.Sprintf("%d Market Street", i),
			Paid:            status == StatusShipped || status == StatusDelivered,
		}
		if o.Paid {
			o.TrackingNumber = fmt.Sprintf("TRK-%04d", i)
		}
		o.AddItem(&OrderItem{
			ProductSKU:  fmt.Sprintf("SKU-%d", i),
			ProductName: fmt.Sprintf("Product %d", i),
			Quantity:    i,
			UnitPrice:   decimal.RequireFromString("99.99"),
		})
		o.AddItem(&OrderItem{
			ProductSKU:  fmt.Sprintf("SKU-%d", i+5),
			ProductName: fmt.Sprintf("Product %d", i+5),
			Quantity:    i + 1,
			UnitPrice:   decimal.RequireFromString("149.99"),
		})
		o.recalculate()
		orders = append(orders, o)
	}
	return orders
}
