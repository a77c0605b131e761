package domain

// OrderItem is a line item in an order. Name, SKU and UnitPrice are snapshots
// taken from the catalog at order time so later catalog edits never change
// what the customer was charged.
type OrderItem struct {
	ID         string `json:"id"`
	OrderID    string `json:"order_id"`
	ProductID  string `json:"product_id"`
	VariantID  string `json:"variant_id"`
	Name       string `json:"name"`
	SKU        string `json:"sku"`
	UnitPrice  int64  `json:"unit_price"`
	Quantity   int    `json:"quantity"`
	TotalPrice int64  `json:"total_price"`
}

// LineTotal returns the total price for this line item.
func (i *OrderItem) LineTotal() int64 {
	return i.UnitPrice * int64(i.Quantity)
}
