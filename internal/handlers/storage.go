package handlers

import (
	"context"

	"marketplace/models"
)

// StorageInterface covers the read models and preference writes the HTTP
// layer serves directly; all state transitions go through the engines.
type StorageInterface interface {
	GetBuyerOrders(ctx context.Context, buyerID, limit, offset int) ([]models.Order, error)
	GetSellerOrders(ctx context.Context, sellerID, limit, offset int) ([]models.Order, error)
	GetBuyerRFQs(ctx context.Context, buyerID, limit, offset int) ([]models.RFQ, error)
	GetDisputesForOrder(ctx context.Context, orderID int) ([]models.Dispute, error)

	GetUserNotifications(ctx context.Context, userID, limit, offset int) ([]models.Notification, error)
	MarkNotificationRead(ctx context.Context, id int64, userID int) error
	UpsertPreference(ctx context.Context, p *models.NotificationPreference) error
	SetUserMuted(ctx context.Context, userID int, muted bool) error
}
