package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"order-svc/models"

	"github.com/lib/pq"
)

var (
	ErrNotFound             = errors.New("record not found")
	ErrConcurrentUpdate     = errors.New("order was modified concurrently")
	ErrDuplicateOrderNumber = errors.New("order number already exists")
	ErrDuplicatePayment     = errors.New("payment id already exists")
)

const uniqueViolation = "23505"

// Repository is the persistence contract of the order service. Every method
// runs against whatever handle the repository was built over, so inside
// Store.InTx all calls share one transaction.
type Repository interface {
	CreateOrder(ctx context.Context, order *models.Order) error
	GetOrderByID(ctx context.Context, id int64, forUpdate bool) (*models.Order, error)
	GetOrderByNumber(ctx context.Context, orderNumber string, forUpdate bool) (*models.Order, error)
	ListOrdersByUser(ctx context.Context, userID int64, page, size int) ([]models.Order, int, error)
	UpdateOrder(ctx context.Context, order *models.Order) error
	ExpirePendingOrders(ctx context.Context, cutoff, now time.Time) ([]models.Order, error)
	CreatePayment(ctx context.Context, payment *models.OrderPayment) error
	GetPaymentByPaymentID(ctx context.Context, paymentID int64, forUpdate bool) (*models.OrderPayment, error)
	UpdatePayment(ctx context.Context, payment *models.OrderPayment) error
}

// Store is a Repository that can also open a transaction.
type Store interface {
	Repository
	InTx(ctx context.Context, fn func(repo Repository) error) error
}

type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type OrderRepository struct {
	db dbtx
}

type PostgresStore struct {
	*OrderRepository
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{
		OrderRepository: &OrderRepository{db: db},
		db:              db,
	}
}

// InTx runs fn inside a transaction, committing when fn returns nil and
// rolling back otherwise.
func (s *PostgresStore) InTx(ctx context.Context, fn func(repo Repository) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&OrderRepository{db: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

const orderColumns = `id, order_number, user_id, total_amount, status, payment_status,
	COALESCE(payment_method, ''), COALESCE(notes, ''), COALESCE(shipping_method, ''), COALESCE(tracking_number, ''),
	shipping_first_name, shipping_last_name, shipping_email, COALESCE(shipping_phone, ''),
	shipping_address_line1, COALESCE(shipping_address_line2, ''), shipping_city, COALESCE(shipping_state, ''),
	shipping_postal_code, shipping_country, COALESCE(shipping_company, ''),
	COALESCE(billing_first_name, ''), COALESCE(billing_last_name, ''), COALESCE(billing_email, ''), COALESCE(billing_phone, ''),
	COALESCE(billing_address_line1, ''), COALESCE(billing_address_line2, ''), COALESCE(billing_city, ''), COALESCE(billing_state, ''),
	COALESCE(billing_postal_code, ''), COALESCE(billing_country, ''), COALESCE(billing_company, ''), COALESCE(billing_tax_id, ''),
	locked, locked_at, COALESCE(locked_payment_id, 0), version, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*models.Order, error) {
	var o models.Order
	var lockedAt sql.NullTime
	s, b := &o.ShippingAddress, &o.BillingAddress

	err := row.Scan(
		&o.ID, &o.OrderNumber, &o.UserID, &o.TotalAmount, &o.Status, &o.PaymentStatus,
		&o.PaymentMethod, &o.Notes, &o.ShippingMethod, &o.TrackingNumber,
		&s.FirstName, &s.LastName, &s.Email, &s.Phone,
		&s.AddressLine1, &s.AddressLine2, &s.City, &s.State,
		&s.PostalCode, &s.Country, &s.Company,
		&b.FirstName, &b.LastName, &b.Email, &b.Phone,
		&b.AddressLine1, &b.AddressLine2, &b.City, &b.State,
		&b.PostalCode, &b.Country, &b.Company, &b.TaxID,
		&o.Locked, &lockedAt, &o.LockedPaymentID, &o.Version, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if lockedAt.Valid {
		t := lockedAt.Time
		o.LockedAt = &t
	}
	return &o, nil
}

func (r *OrderRepository) CreateOrder(ctx context.Context, order *models.Order) error {
	s, b := order.ShippingAddress, order.BillingAddress

	err := r.db.QueryRowContext(ctx, `
		INSERT INTO orders (
			order_number, user_id, total_amount, status, payment_status,
			payment_method, notes, shipping_method, tracking_number,
			shipping_first_name, shipping_last_name, shipping_email, shipping_phone,
			shipping_address_line1, shipping_address_line2, shipping_city, shipping_state,
			shipping_postal_code, shipping_country, shipping_company,
			billing_first_name, billing_last_name, billing_email, billing_phone,
			billing_address_line1, billing_address_line2, billing_city, billing_state,
			billing_postal_code, billing_country, billing_company, billing_tax_id,
			locked, locked_at, version, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19, $20,
			$21, $22, $23, $24, $25, $26, $27, $28, $29, $30,
			$31, $32, $33, $34, 0, $35, $36
		) RETURNING id, version`,
		order.OrderNumber, order.UserID, order.TotalAmount, order.Status, order.PaymentStatus,
		order.PaymentMethod, order.Notes, order.ShippingMethod, order.TrackingNumber,
		s.FirstName, s.LastName, s.Email, s.Phone,
		s.AddressLine1, s.AddressLine2, s.City, s.State,
		s.PostalCode, s.Country, s.Company,
		b.FirstName, b.LastName, b.Email, b.Phone,
		b.AddressLine1, b.AddressLine2, b.City, b.State,
		b.PostalCode, b.Country, b.Company, b.TaxID,
		order.Locked, nullTime(order.LockedAt), order.CreatedAt, order.UpdatedAt,
	).Scan(&order.ID, &order.Version)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateOrderNumber
		}
		return fmt.Errorf("failed to insert order: %w", err)
	}

	for i := range order.Items {
		item := &order.Items[i]
		item.OrderID = order.ID
		err := r.db.QueryRowContext(ctx, `
			INSERT INTO order_items (
				order_id, product_id, product_name, product_sku, quantity,
				unit_price, discount_amount, tax_amount, total_price
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
			item.OrderID, item.ProductID, item.ProductName, item.ProductSKU, item.Quantity,
			item.UnitPrice, item.DiscountAmount, item.TaxAmount, item.TotalPrice,
		).Scan(&item.ID)
		if err != nil {
			return fmt.Errorf("failed to insert order item for product %d: %w", item.ProductID, err)
		}
	}

	return nil
}

func (r *OrderRepository) GetOrderByID(ctx context.Context, id int64, forUpdate bool) (*models.Order, error) {
	return r.getOrder(ctx, "id = $1", id, forUpdate)
}

func (r *OrderRepository) GetOrderByNumber(ctx context.Context, orderNumber string, forUpdate bool) (*models.Order, error) {
	return r.getOrder(ctx, "order_number = $1", orderNumber, forUpdate)
}

func (r *OrderRepository) getOrder(ctx context.Context, where string, arg any, forUpdate bool) (*models.Order, error) {
	query := "SELECT " + orderColumns + " FROM orders WHERE " + where
	if forUpdate {
		query += " FOR UPDATE"
	}

	order, err := scanOrder(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}

	items, err := r.loadItems(ctx, []int64{order.ID})
	if err != nil {
		return nil, err
	}
	order.Items = items[order.ID]
	return order, nil
}

// ListOrdersByUser returns one page of the user's orders, newest first, and the
// total number of orders the user has.
func (r *OrderRepository) ListOrdersByUser(ctx context.Context, userID int64, page, size int) ([]models.Order, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM orders WHERE user_id = $1", userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count orders: %w", err)
	}
	if total == 0 {
		return []models.Order{}, 0, nil
	}

	rows, err := r.db.QueryContext(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE user_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3",
		userID, size, page*size,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list orders: %w", err)
	}
	orders, err := collectOrders(rows)
	if err != nil {
		return nil, 0, err
	}

	ids := make([]int64, len(orders))
	for i := range orders {
		ids[i] = orders[i].ID
	}
	items, err := r.loadItems(ctx, ids)
	if err != nil {
		return nil, 0, err
	}
	for i := range orders {
		orders[i].Items = items[orders[i].ID]
	}

	return orders, total, nil
}

func (r *OrderRepository) loadItems(ctx context.Context, orderIDs []int64) (map[int64][]models.OrderItem, error) {
	result := make(map[int64][]models.OrderItem, len(orderIDs))
	if len(orderIDs) == 0 {
		return result, nil
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, order_id, product_id, product_name, COALESCE(product_sku, ''), quantity,
			unit_price, discount_amount, tax_amount, total_price
		FROM order_items WHERE order_id = ANY($1) ORDER BY id`,
		pq.Array(orderIDs),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item models.OrderItem
		if err := rows.Scan(
			&item.ID, &item.OrderID, &item.ProductID, &item.ProductName, &item.ProductSKU, &item.Quantity,
			&item.UnitPrice, &item.DiscountAmount, &item.TaxAmount, &item.TotalPrice,
		); err != nil {
			return nil, fmt.Errorf("failed to scan order item: %w", err)
		}
		result[item.OrderID] = append(result[item.OrderID], item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate order items: %w", err)
	}
	return result, nil
}

// UpdateOrder writes the mutable order columns guarded by the version the
// order was read at. On success the in-memory version is bumped.
func (r *OrderRepository) UpdateOrder(ctx context.Context, order *models.Order) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE orders SET
			status = $1, payment_status = $2, shipping_method = $3, tracking_number = $4,
			locked = $5, locked_at = $6, locked_payment_id = $7, version = version + 1, updated_at = $8
		WHERE id = $9 AND version = $10`,
		order.Status, order.PaymentStatus, order.ShippingMethod, order.TrackingNumber,
		order.Locked, nullTime(order.LockedAt), nullID(order.LockedPaymentID), order.UpdatedAt,
		order.ID, order.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update order: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return ErrConcurrentUpdate
	}

	order.Version++
	return nil
}

// ExpirePendingOrders cancels every PENDING order last updated before cutoff
// in a single statement and returns the orders it touched (without items).
func (r *OrderRepository) ExpirePendingOrders(ctx context.Context, cutoff, now time.Time) ([]models.Order, error) {
	rows, err := r.db.QueryContext(ctx, `
		UPDATE orders SET
			status = $1, payment_status = $2, locked = FALSE, locked_at = NULL, locked_payment_id = NULL,
			version = version + 1, updated_at = $3
		WHERE status = $4 AND updated_at < $5
		RETURNING `+orderColumns,
		models.OrderStatusCancelled, models.PaymentStatusFailed, now,
		models.OrderStatusPending, cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to expire pending orders: %w", err)
	}
	return collectOrders(rows)
}

func collectOrders(rows *sql.Rows) ([]models.Order, error) {
	defer rows.Close()

	orders := []models.Order{}
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, *order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate orders: %w", err)
	}
	return orders, nil
}

func (r *OrderRepository) CreatePayment(ctx context.Context, payment *models.OrderPayment) error {
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO order_payments (order_id, payment_id, payment_txn_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		payment.OrderID, payment.PaymentID, payment.PaymentTxnID, payment.Status,
		payment.CreatedAt, payment.UpdatedAt,
	).Scan(&payment.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicatePayment
		}
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	return nil
}

func (r *OrderRepository) GetPaymentByPaymentID(ctx context.Context, paymentID int64, forUpdate bool) (*models.OrderPayment, error) {
	query := `SELECT id, order_id, payment_id, COALESCE(payment_txn_id, ''), status, created_at, updated_at
		FROM order_payments WHERE payment_id = $1`
	if forUpdate {
		query += " FOR UPDATE"
	}

	var p models.OrderPayment
	err := r.db.QueryRowContext(ctx, query, paymentID).Scan(
		&p.ID, &p.OrderID, &p.PaymentID, &p.PaymentTxnID, &p.Status, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return &p, nil
}

func (r *OrderRepository) UpdatePayment(ctx context.Context, payment *models.OrderPayment) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE order_payments SET status = $1, payment_txn_id = $2, updated_at = $3 WHERE payment_id = $4",
		payment.Status, payment.PaymentTxnID, payment.UpdatedAt, payment.PaymentID,
	)
	if err != nil {
		return fmt.Errorf("failed to update payment: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func nullID(id int64) sql.NullInt64 {
	return sql.NullInt64{Int64: id, Valid: id != 0}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
