package catalog

import (
	"context"
	"fmt"
	"time"
)

// Order statuses.
const (
	OrderPendingPayment = "PENDING_PAYMENT"
	OrderCompleted      = "COMPLETED"
	OrderCancelled      = "CANCELLED"
	OrderRefunded       = "REFUNDED"
)

// Order is a course purchase order.
type Order struct {
	ID            int64      `json:"id"`
	OrderNo       string     `json:"order_no"`
	UserID        int64      `json:"user_id"`
	CourseID      int64      `json:"course_id"`
	OriginalPrice float64    `json:"original_price"`
	RealPrice     float64    `json:"real_price"`
	PaymentMethod string     `json:"payment_method"`
	TransactionID string     `json:"transaction_id,omitempty"`
	Status        string     `json:"status"`
	PaidAt        *time.Time `json:"paid_at,omitempty"`
	ClientIP      string     `json:"-"`
	CreatedTime   time.Time  `json:"created_time"`
}

const orderColumns = `id, order_no, user_id, course_id, original_price,
	real_price, COALESCE(payment_method, ''), COALESCE(transaction_id, ''),
	status, paid_at, COALESCE(client_ip, ''), created_time`

func scanOrder(row interface{ Scan(...interface{}) error }) (Order, error) {
	var o Order
	var err = row.Scan(&o.ID, &o.OrderNo, &o.UserID, &o.CourseID,
		&o.OriginalPrice, &o.RealPrice, &o.PaymentMethod, &o.TransactionID,
		&o.Status, &o.PaidAt, &o.ClientIP, &o.CreatedTime)
	return o, err
}

// InsertOrder records a new order and fills in its generated ID.
func (s *Store) InsertOrder(ctx context.Context, o *Order) error {
	var id, err = s.insertReturningID(ctx, `
		INSERT INTO orders (order_no, user_id, course_id, original_price, real_price,
			payment_method, transaction_id, status, paid_at, client_ip, created_time, updated_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.OrderNo, o.UserID, o.CourseID, o.OriginalPrice, o.RealPrice,
		o.PaymentMethod, o.TransactionID, o.Status, o.PaidAt, o.ClientIP,
		time.Now(), time.Now())
	if err != nil {
		return fmt.Errorf("inserting order %s: %w", o.OrderNo, err)
	}
	o.ID = id
	return nil
}

// OrderByNo fetches an order by its business order number, or
// ErrNotFound.
func (s *Store) OrderByNo(ctx context.Context, orderNo string) (*Order, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var o, err = scanOrder(s.db.QueryRowContext(ctx,
		s.rebind(`SELECT `+orderColumns+` FROM orders WHERE order_no = ?`), orderNo))
	if isNoRows(err) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("querying order %s: %w", orderNo, err)
	}
	return &o, nil
}

// MarkOrderPaid transitions a pending order to COMPLETED, recording
// the provider transaction and payment time. Marking an order that is
// not pending is a no-op, which makes payment callbacks replay-safe.
func (s *Store) MarkOrderPaid(ctx context.Context, orderNo, transactionID string) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var _, err = s.db.ExecContext(ctx, s.rebind(`
		UPDATE orders SET status = ?, transaction_id = ?, paid_at = ?, updated_time = ?
		WHERE order_no = ? AND status = ?`),
		OrderCompleted, transactionID, time.Now(), time.Now(),
		orderNo, OrderPendingPayment)
	if err != nil {
		return fmt.Errorf("marking order %s paid: %w", orderNo, err)
	}
	return nil
}
