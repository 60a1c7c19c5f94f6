package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"marketplace/models"

	"github.com/jmoiron/sqlx"
)

type Storage struct {
	db *sqlx.DB
}

func NewStorage(db *sqlx.DB) *Storage {
	return &Storage{db: db}
}

// withTx runs fn inside a transaction, rolling back on any error. Multi-write
// operations (order + ledger postings, dispute + hold) go through here so
// balances never see a partial unit.
func (s *Storage) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return models.ErrNotFound
	}
	return err
}

func notFoundAsNil(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	return err
}

// User (из внешней auth-подсистемы, только чтение ролей)

func (s *Storage) GetUser(ctx context.Context, id int) (*models.User, error) {
	u := &models.User{}
	query := `SELECT * FROM users WHERE id=$1`
	if err := s.db.GetContext(ctx, u, query, id); err != nil {
		return nil, notFound(err)
	}
	return u, nil
}

func (s *Storage) CreateUser(ctx context.Context, u *models.User) error {
	query := `
        INSERT INTO users (name, role, organization_id, active, muted)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING id, created_at`
	return s.db.QueryRowContext(ctx, query, u.Name, u.Role, u.OrganizationID, u.Active, u.Muted).
		Scan(&u.ID, &u.CreatedAt)
}

func (s *Storage) SetUserMuted(ctx context.Context, userID int, muted bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET muted=$1 WHERE id=$2`, muted, userID)
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

func (s *Storage) IsUserMuted(ctx context.Context, userID int) (bool, error) {
	var muted bool
	err := s.db.GetContext(ctx, &muted, `SELECT muted FROM users WHERE id=$1`, userID)
	if err != nil {
		return false, notFound(err)
	}
	return muted, nil
}
