package cart

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fjod/go_cart/session-cart/internal/domain"
	"github.com/fjod/go_cart/session-cart/internal/session"
	"github.com/go-viper/mapstructure/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	KeySessionName = "cart.session_name"
	KeyTaxRate     = "cart.tax_rate"

	// DefaultQuantity is used by callers that add an item without a quantity.
	DefaultQuantity int64 = 1
)

var ErrNoSessionName = errors.New("cart session name is not configured")

// Config is the read-only settings source. *viper.Viper satisfies it.
type Config interface {
	GetString(key string) string
}

// Manager exposes the cart of one session. It keeps no state of its own:
// every call re-reads the cart from the store.
//
// Add reads and then writes, so two concurrent adds of the same id on one
// session can lose an increment. Callers are expected to serialize writes per
// session.
type Manager struct {
	store  session.Store
	config Config
	logger *zap.Logger
}

func NewManager(store session.Store, config Config, logger *zap.Logger) *Manager {
	return &Manager{
		store:  store,
		config: config,
		logger: logger,
	}
}

// Add puts an item into the cart. When id is already present only its
// quantity is increased and the item as it was before the increment is
// returned; otherwise the new item is stored and returned.
func (m *Manager) Add(ctx context.Context, id, name string, price, quantity int64, options map[string]string) (domain.Cart, error) {
	root, cart, err := m.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	if existing, ok := cart[id]; ok {
		path := session.Join(root, id, "quantity")
		if err := m.store.Put(ctx, path, existing.Quantity+quantity); err != nil {
			return nil, m.fail("put", path, err)
		}
		return domain.Cart{id: existing}, nil
	}

	if options == nil {
		options = map[string]string{}
	}
	item := domain.CartItem{
		ID:       id,
		Name:     name,
		Price:    price,
		Quantity: quantity,
		Options:  options,
	}

	path := session.Join(root, id)
	if err := m.store.Put(ctx, path, item.SessionValue()); err != nil {
		return nil, m.fail("put", path, err)
	}
	return domain.Cart{id: item}, nil
}

// AddMany adds items in order and stops at the first failure; items added
// before the failure stay in the cart.
func (m *Manager) AddMany(ctx context.Context, items []domain.ItemInput) error {
	for _, item := range items {
		if _, err := m.Add(ctx, item.ID, item.Name, item.Price, item.Quantity, item.Options); err != nil {
			return err
		}
	}
	return nil
}

// Find returns the item stored under id. ok is false when there is none.
func (m *Manager) Find(ctx context.Context, id string) (domain.CartItem, bool, error) {
	_, cart, err := m.snapshot(ctx)
	if err != nil {
		return domain.CartItem{}, false, err
	}
	item, ok := cart[id]
	return item, ok, nil
}

func (m *Manager) All(ctx context.Context) (domain.Cart, error) {
	_, cart, err := m.snapshot(ctx)
	return cart, err
}

// Remove deletes id from the cart. Removing an unknown id is a no-op.
func (m *Manager) Remove(ctx context.Context, id string) error {
	root, err := m.root()
	if err != nil {
		return err
	}
	path := session.Join(root, id)
	if _, err := m.store.Forget(ctx, path); err != nil {
		return m.fail("forget", path, err)
	}
	return nil
}

func (m *Manager) RemoveMany(ctx context.Context, ids []string) error {
	for _, id := range ids {
		if err := m.Remove(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// Clear drops the whole cart and reports whether the store removed anything.
func (m *Manager) Clear(ctx context.Context) (bool, error) {
	root, err := m.root()
	if err != nil {
		return false, err
	}
	removed, err := m.store.Forget(ctx, root)
	if err != nil {
		return false, m.fail("forget", root, err)
	}
	return removed, nil
}

func (m *Manager) Subtotal(ctx context.Context) (int64, error) {
	_, cart, err := m.snapshot(ctx)
	if err != nil {
		return 0, err
	}
	return subtotal(cart), nil
}

// Tax is the sum over items of (price*quantity/100)*rate. The division by 100
// truncates before the rate is applied; the decimal sum is truncated once at
// the end.
func (m *Manager) Tax(ctx context.Context) (int64, error) {
	_, cart, err := m.snapshot(ctx)
	if err != nil {
		return 0, err
	}
	rate, err := m.taxRate()
	if err != nil {
		return 0, err
	}
	return tax(cart, rate), nil
}

func (m *Manager) SubtotalWithTax(ctx context.Context) (int64, error) {
	sub, err := m.Subtotal(ctx)
	if err != nil {
		return 0, err
	}
	t, err := m.Tax(ctx)
	if err != nil {
		return 0, err
	}
	return sub + t, nil
}

func (m *Manager) Count(ctx context.Context) (int64, error) {
	_, cart, err := m.snapshot(ctx)
	if err != nil {
		return 0, err
	}
	return count(cart), nil
}

// Summary computes every aggregate from a single read of the cart.
func (m *Manager) Summary(ctx context.Context) (domain.Summary, error) {
	_, cart, err := m.snapshot(ctx)
	if err != nil {
		return domain.Summary{}, err
	}
	rate, err := m.taxRate()
	if err != nil {
		return domain.Summary{}, err
	}

	sub := subtotal(cart)
	t := tax(cart, rate)
	return domain.Summary{
		Subtotal: sub,
		Tax:      t,
		Total:    sub + t,
		Count:    count(cart),
	}, nil
}

func (m *Manager) root() (string, error) {
	root := m.config.GetString(KeySessionName)
	if root == "" {
		return "", ErrNoSessionName
	}
	return root, nil
}

func (m *Manager) taxRate() (decimal.Decimal, error) {
	raw := strings.TrimSpace(m.config.GetString(KeyTaxRate))
	if raw == "" {
		return decimal.Zero, nil
	}
	rate, err := decimal.NewFromString(raw)
	if err != nil {
		m.logger.Error("invalid tax rate", zap.String("value", raw), zap.Error(err))
		return decimal.Zero, fmt.Errorf("parse %s: %w", KeyTaxRate, err)
	}
	return rate, nil
}

func (m *Manager) snapshot(ctx context.Context) (string, domain.Cart, error) {
	root, err := m.root()
	if err != nil {
		return "", nil, err
	}
	raw, err := m.store.Get(ctx, root, map[string]any{})
	if err != nil {
		return "", nil, m.fail("get", root, err)
	}
	cart, err := decodeCart(raw)
	if err != nil {
		m.logger.Error("malformed cart in session", zap.String("path", root), zap.Error(err))
		return "", nil, err
	}
	return root, cart, nil
}

func (m *Manager) fail(op, path string, err error) error {
	m.logger.Error("session "+op+" failed", zap.String("path", path), zap.Error(err))
	return err
}

func decodeCart(raw any) (domain.Cart, error) {
	cart := domain.Cart{}
	if raw == nil {
		return cart, nil
	}
	entries, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("decode cart: unexpected %T", raw)
	}

	for id, value := range entries {
		var item domain.CartItem
		decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			Result:           &item,
			WeaklyTypedInput: true,
		})
		if err != nil {
			return nil, fmt.Errorf("decode cart: %w", err)
		}
		if err := decoder.Decode(value); err != nil {
			return nil, fmt.Errorf("decode cart item %s: %w", id, err)
		}
		item.ID = id
		if item.Options == nil {
			item.Options = map[string]string{}
		}
		cart[id] = item
	}
	return cart, nil
}

func subtotal(cart domain.Cart) int64 {
	var sum int64
	for _, item := range cart {
		sum += item.Price * item.Quantity
	}
	return sum
}

func tax(cart domain.Cart, rate decimal.Decimal) int64 {
	sum := decimal.Zero
	for _, item := range cart {
		base := item.Price * item.Quantity / 100
		sum = sum.Add(decimal.NewFromInt(base).Mul(rate))
	}
	return sum.IntPart()
}

func count(cart domain.Cart) int64 {
	var sum int64
	for _, item := range cart {
		sum += item.Quantity
	}
	return sum
}
