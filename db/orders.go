package db

import (
	"context"
	"time"

	"marketplace/models"

	"github.com/jmoiron/sqlx"
)

// Order (Заказ)

// insertOrderWithEntries creates the order, its line items and the attached
// postings on the caller's transaction; acceptance of an RFQ offer reuses it
// to commit the spawned order atomically with the RFQ hop.
func insertOrderWithEntries(ctx context.Context, tx *sqlx.Tx, o *models.Order, entries []*models.LedgerEntry) error {
	query := `
        INSERT INTO orders
            (buyer_id, seller_id, currency, total, status, delivery_mode, category, version)
        VALUES
            ($1, $2, $3, $4, $5, $6, $7, 1)
        RETURNING id, created_at`
	err := tx.QueryRowContext(ctx, query,
		o.BuyerID, o.SellerID, o.Currency, o.Total, o.Status, o.DeliveryMode, o.Category).
		Scan(&o.ID, &o.CreatedAt)
	if err != nil {
		return err
	}
	o.Version = 1

	for i := range o.Items {
		it := &o.Items[i]
		it.OrderID = o.ID
		it.Subtotal = it.UnitPrice.Mul(decimalFromInt(it.Quantity))
		err := tx.QueryRowContext(ctx, `
            INSERT INTO order_items (order_id, product_id, quantity, unit_price, subtotal)
            VALUES ($1, $2, $3, $4, $5)
            RETURNING id`,
			it.OrderID, it.ProductID, it.Quantity, it.UnitPrice, it.Subtotal).
			Scan(&it.ID)
		if err != nil {
			return err
		}
	}

	for _, e := range entries {
		e.OrderID = &o.ID
		if err := insertEntry(ctx, tx, e); err != nil {
			return err
		}
	}
	return nil
}

func (s *Storage) CreateOrderWithEntries(ctx context.Context, o *models.Order, entries []*models.LedgerEntry) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		return insertOrderWithEntries(ctx, tx, o, entries)
	})
}

func (s *Storage) GetOrder(ctx context.Context, id int) (*models.Order, error) {
	o := &models.Order{}
	if err := s.db.GetContext(ctx, o, `SELECT * FROM orders WHERE id=$1`, id); err != nil {
		return nil, notFound(err)
	}
	items := []models.OrderItem{}
	err := s.db.SelectContext(ctx, &items,
		`SELECT * FROM order_items WHERE order_id=$1 ORDER BY id`, id)
	if err != nil {
		return nil, err
	}
	o.Items = items
	return o, nil
}

// UpdateOrderStatus bumps the version with a compare-and-swap on the version
// the caller read; a lost race surfaces as ErrVersionConflict.
func (s *Storage) UpdateOrderStatus(ctx context.Context, o *models.Order) error {
	query := `
        UPDATE orders
        SET status=$1, tracking_ref=$2, shipped_at=$3, delivered_at=$4,
            version=version+1, updated_at=NOW()
        WHERE id=$5 AND version=$6`
	res, err := s.db.ExecContext(ctx, query,
		o.Status, o.TrackingRef, o.ShippedAt, o.DeliveredAt, o.ID, o.Version)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return models.ErrVersionConflict
	}
	o.Version++
	return nil
}

// FinalizeOrder applies the terminal status and flips the order's pending
// Sale/Commission postings in the same transaction: Completed on close,
// Failed on cancel.
func (s *Storage) FinalizeOrder(ctx context.Context, o *models.Order, entryStatus string) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
            UPDATE orders
            SET status=$1, version=version+1, updated_at=NOW()
            WHERE id=$2 AND version=$3`,
			o.Status, o.ID, o.Version)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return models.ErrVersionConflict
		}
		_, err = tx.ExecContext(ctx, `
            UPDATE ledger_entries
            SET status=$1
            WHERE order_id=$2 AND kind IN ($3, $4) AND status=$5`,
			entryStatus, o.ID, models.EntrySale, models.EntryCommission, models.EntryPending)
		if err != nil {
			return err
		}
		o.Version++
		return nil
	})
}

func (s *Storage) GetBuyerOrders(ctx context.Context, buyerID, limit, offset int) ([]models.Order, error) {
	orders := []models.Order{}
	query := `
        SELECT * FROM orders
        WHERE buyer_id = $1
        ORDER BY created_at DESC
        LIMIT $2 OFFSET $3`
	err := s.db.SelectContext(ctx, &orders, query, buyerID, limit, offset)
	return orders, err
}

func (s *Storage) GetSellerOrders(ctx context.Context, sellerID, limit, offset int) ([]models.Order, error) {
	orders := []models.Order{}
	query := `
        SELECT * FROM orders
        WHERE seller_id = $1
        ORDER BY created_at DESC
        LIMIT $2 OFFSET $3`
	err := s.db.SelectContext(ctx, &orders, query, sellerID, limit, offset)
	return orders, err
}

// ListAutoCloseCandidates returns delivered orders whose dispute window
// elapsed and that have no active dispute attached.
func (s *Storage) ListAutoCloseCandidates(ctx context.Context, deliveredBefore time.Time) ([]models.Order, error) {
	orders := []models.Order{}
	query := `
        SELECT o.* FROM orders o
        WHERE o.status = $1
          AND o.delivered_at <= $2
          AND NOT EXISTS (
              SELECT 1 FROM disputes d
              WHERE d.order_id = o.id AND d.status NOT IN ($3, $4)
          )
        ORDER BY o.delivered_at ASC`
	err := s.db.SelectContext(ctx, &orders, query,
		models.OrderDelivered, deliveredBefore, models.DisputeResolved, models.DisputeWithdrawn)
	return orders, err
}

func (s *Storage) ActiveDisputeExists(ctx context.Context, orderID int) (bool, error) {
	var count int
	query := `
        SELECT COUNT(1) FROM disputes
        WHERE order_id=$1 AND status NOT IN ($2, $3)`
	err := s.db.GetContext(ctx, &count, query, orderID, models.DisputeResolved, models.DisputeWithdrawn)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
