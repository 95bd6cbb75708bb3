package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/comanda/internal/domain/order"
)

const (
	orderColumns = `id, customer_id, branch_id, status, total, payment_method, ruc, company_name,
		billing_address, COALESCE(idempotency_key, ''), created_at, updated_at`

	insertOrderSQL = `INSERT INTO orders (id, customer_id, branch_id, status, total, payment_method, ruc,
		company_name, billing_address, idempotency_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULLIF($10, ''), $11, $12)`

	getOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	getOrderByIdempotencyKeySQL = `SELECT ` + orderColumns + `
		FROM orders WHERE customer_id = $1 AND idempotency_key = $2`

	listOrdersSQL = `SELECT ` + orderColumns + `
		FROM orders
		WHERE ($1 = '' OR branch_id = $1)
		  AND ($2 = '' OR customer_id = $2)
		  AND NOT (status = ANY($3))
		ORDER BY created_at, id`

	updateStatusSQL = `UPDATE orders SET status = $2, updated_at = $3 WHERE id = $1`

	listItemsSQL = `SELECT order_id, id, product_id, name, unit_price, promo_price, description, image,
		quantity, observation
		FROM order_items WHERE order_id = ANY($1)
		ORDER BY order_id, position`
)

var itemColumns = []string{
	"id", "order_id", "position", "product_id", "name", "unit_price", "promo_price",
	"description", "image", "quantity", "observation",
}

var _ order.Store = (*OrderStore)(nil)

// OrderStore implements order.Store backed by PostgreSQL. An order and its
// items are written in one transaction.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore returns an OrderStore that uses the given pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

// CreateOrderWithItems inserts the order row and copies its items in the same
// transaction, so readers never see one without the other.
func (s *OrderStore) CreateOrderWithItems(ctx context.Context, o *order.Order) (string, error) {
	err := withTx(ctx, s.pool, func(ctx context.Context) error {
		q := conn(ctx, s.pool)
		p := o.Payment
		if _, err := q.Exec(ctx, insertOrderSQL,
			o.ID, o.CustomerID, o.BranchID, string(o.Status), o.Total, string(p.Method),
			p.RUC, p.CompanyName, p.Address, o.IdempotencyKey, o.CreatedAt, o.UpdatedAt,
		); err != nil {
			if isUniqueViolation(err) {
				return errors.Wrapf(err, "order %q already exists", o.ID)
			}
			return errors.Wrapf(err, "insert order %q", o.ID)
		}

		rows := make([][]any, len(o.Items))
		for i, it := range o.Items {
			rows[i] = []any{
				it.ID, o.ID, i, it.ProductID, it.Name, it.UnitPrice, it.PromoPrice,
				it.Description, it.Image, it.Quantity, it.Observation,
			}
		}
		if _, err := q.CopyFrom(ctx, pgx.Identifier{"order_items"}, itemColumns, pgx.CopyFromRows(rows)); err != nil {
			return errors.Wrapf(err, "insert items of order %q", o.ID)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return o.ID, nil
}

// GetOrder returns the order with its items.
func (s *OrderStore) GetOrder(ctx context.Context, id string) (*order.Order, error) {
	return s.getOne(ctx, getOrderSQL, id)
}

// GetOrderByIdempotencyKey returns the order the customer created with key.
func (s *OrderStore) GetOrderByIdempotencyKey(ctx context.Context, customerID, key string) (*order.Order, error) {
	return s.getOne(ctx, getOrderByIdempotencyKeySQL, customerID, key)
}

func (s *OrderStore) getOne(ctx context.Context, query string, args ...any) (*order.Order, error) {
	q := conn(ctx, s.pool)
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query order")
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrOrderNotFound
		}
		return nil, errors.Wrap(err, "scan order")
	}

	orders := []order.Order{o}
	if err := s.attachItems(ctx, q, orders); err != nil {
		return nil, err
	}
	return &orders[0], nil
}

// UpdateStatus sets the status and modification time of an order.
func (s *OrderStore) UpdateStatus(ctx context.Context, id string, status order.Status, updatedAt time.Time) error {
	tag, err := conn(ctx, s.pool).Exec(ctx, updateStatusSQL, id, string(status), updatedAt)
	if err != nil {
		return errors.Wrapf(err, "update status of order %q", id)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrOrderNotFound
	}
	return nil
}

// ListOrders returns orders matching f, oldest first.
func (s *OrderStore) ListOrders(ctx context.Context, f order.Filter) ([]order.Order, error) {
	excluded := make([]string, len(f.ExcludeStatuses))
	for i, st := range f.ExcludeStatuses {
		excluded[i] = string(st)
	}

	q := conn(ctx, s.pool)
	rows, err := q.Query(ctx, listOrdersSQL, f.BranchID, f.CustomerID, excluded)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, errors.Wrap(err, "scan orders")
	}
	if err := s.attachItems(ctx, q, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// attachItems loads the items of all orders with a single query.
func (s *OrderStore) attachItems(ctx context.Context, q querier, orders []order.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]string, len(orders))
	byID := make(map[string]*order.Order, len(orders))
	for i := range orders {
		ids[i] = orders[i].ID
		byID[orders[i].ID] = &orders[i]
	}

	rows, err := q.Query(ctx, listItemsSQL, ids)
	if err != nil {
		return errors.Wrap(err, "list order items")
	}
	defer rows.Close()

	for rows.Next() {
		var (
			orderID string
			it      order.Item
			unit    decimal.Decimal
			promo   decimal.NullDecimal
		)
		if err := rows.Scan(
			&orderID, &it.ID, &it.ProductID, &it.Name, &unit, &promo,
			&it.Description, &it.Image, &it.Quantity, &it.Observation,
		); err != nil {
			return errors.Wrap(err, "scan order item")
		}
		it.UnitPrice = unit
		it.PromoPrice = promo
		if o, ok := byID[orderID]; ok {
			o.Items = append(o.Items, it)
		}
	}
	if err := rows.Err(); err != nil {
		return errors.Wrap(err, "iterate order items")
	}
	return nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o      order.Order
		status string
		method string
		total  decimal.Decimal
	)
	err := row.Scan(
		&o.ID, &o.CustomerID, &o.BranchID, &status, &total, &method,
		&o.Payment.RUC, &o.Payment.CompanyName, &o.Payment.Address,
		&o.IdempotencyKey, &o.CreatedAt, &o.UpdatedAt,
	)
	o.Status = order.Status(status)
	o.Payment.Method = order.PaymentMethod(method)
	o.Total = total
	o.CreatedAt = o.CreatedAt.UTC()
	o.UpdatedAt = o.UpdatedAt.UTC()
	return o, err
}
