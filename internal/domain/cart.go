package domain

// CartItem is one line of a cart. The ID is the key the item is stored
// under inside the session, so it is not serialized as a field.
type CartItem struct {
	ID       string            `json:"id" mapstructure:"-"`
	Name     string            `json:"name" mapstructure:"name"`
	Price    int64             `json:"price" mapstructure:"price"`
	Quantity int64             `json:"quantity" mapstructure:"quantity"`
	Options  map[string]string `json:"options" mapstructure:"options"`
}

// Cart maps item ID to item.
type Cart map[string]CartItem

// ItemInput is a single entry of a batch add.
type ItemInput struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	Price    int64             `json:"price"`
	Quantity int64             `json:"quantity"`
	Options  map[string]string `json:"options"`
}

// Summary holds the derived monetary aggregates of a cart.
type Summary struct {
	Subtotal int64 `json:"subtotal"`
	Tax      int64 `json:"tax"`
	Total    int64 `json:"total"`
	Count    int64 `json:"count"`
}

// SessionValue is the shape an item takes inside the session store.
func (i CartItem) SessionValue() map[string]any {
	options := make(map[string]any, len(i.Options))
	for k, v := range i.Options {
		options[k] = v
	}
	return map[string]any{
		"name":     i.Name,
		"price":    i.Price,
		"quantity": i.Quantity,
		"options":  options,
	}
}
