package db

import (
	"context"

	"marketplace/models"
)

// Notification (Уведомления) и настройки каналов

func (s *Storage) InsertNotification(ctx context.Context, n *models.Notification) error {
	query := `
        INSERT INTO notifications (event_id, user_id, event_type, priority, payload)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (event_id) DO NOTHING
        RETURNING id, created_at`
	err := s.db.QueryRowContext(ctx, query,
		n.EventID, n.UserID, n.EventType, n.Priority, n.Payload).
		Scan(&n.ID, &n.CreatedAt)
	if err != nil {
		// Повторная доставка того же события: запись уже есть, это не ошибка.
		return notFoundAsNil(err)
	}
	return nil
}

func (s *Storage) GetUserNotifications(ctx context.Context, userID, limit, offset int) ([]models.Notification, error) {
	notifications := []models.Notification{}
	query := `
        SELECT * FROM notifications
        WHERE user_id = $1
        ORDER BY created_at DESC, id DESC
        LIMIT $2 OFFSET $3`
	err := s.db.SelectContext(ctx, &notifications, query, userID, limit, offset)
	return notifications, err
}

func (s *Storage) MarkNotificationRead(ctx context.Context, id int64, userID int) error {
	res, err := s.db.ExecContext(ctx, `
        UPDATE notifications SET read_at=NOW()
        WHERE id=$1 AND user_id=$2 AND read_at IS NULL`, id, userID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (s *Storage) GetPreference(ctx context.Context, userID int, eventType string) (*models.NotificationPreference, error) {
	p := &models.NotificationPreference{}
	query := `SELECT * FROM notification_preferences WHERE user_id=$1 AND event_type=$2`
	if err := s.db.GetContext(ctx, p, query, userID, eventType); err != nil {
		return nil, notFound(err)
	}
	return p, nil
}

func (s *Storage) UpsertPreference(ctx context.Context, p *models.NotificationPreference) error {
	query := `
        INSERT INTO notification_preferences (user_id, event_type, push, email, sms)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (user_id, event_type) DO UPDATE
        SET push = EXCLUDED.push, email = EXCLUDED.email, sms = EXCLUDED.sms`
	_, err := s.db.ExecContext(ctx, query, p.UserID, p.EventType, p.Push, p.Email, p.SMS)
	return err
}
