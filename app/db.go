package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/cgmelamed/whydatawhy/app/config"
	"github.com/cgmelamed/whydatawhy/app/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// ErrAccountNotFound is returned when no account matches a lookup or update.
var ErrAccountNotFound = errors.New("account not found")

const userColumns = `
	id, auth_sub, email,
	stripe_customer_id, stripe_subscription_id, stripe_price_id, stripe_current_period_end,
	free_queries_used, total_queries, created_at`

// Store is the Postgres-backed account and query store.
type Store struct {
	db *sqlx.DB
}

func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// OpenDB connects to Postgres and verifies the connection.
func OpenDB(ctx context.Context, cfg config.PostgresConfig) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return db, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) GetUserByID(ctx context.Context, id string) (models.User, error) {
	var u models.User
	err := s.db.GetContext(ctx, &u, `SELECT`+userColumns+` FROM users WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrAccountNotFound
	}
	return u, err
}

func (s *Store) GetUserBySub(ctx context.Context, sub string) (models.User, error) {
	var u models.User
	err := s.db.GetContext(ctx, &u, `SELECT`+userColumns+` FROM users WHERE auth_sub = $1`, sub)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrAccountNotFound
	}
	return u, err
}

// UpsertUser creates the account for an identity-provider subject on first
// sign-in. A later sign-in only fills in a missing email.
func (s *Store) UpsertUser(ctx context.Context, sub, email string) (models.User, error) {
	var u models.User
	err := s.db.GetContext(ctx, &u, `
		INSERT INTO users (auth_sub, email)
		VALUES ($1, $2)
		ON CONFLICT (auth_sub) DO UPDATE
			SET email = COALESCE(users.email, EXCLUDED.email)
		RETURNING`+userColumns,
		sub, nullIfEmpty(email),
	)
	return u, err
}

// IncrementUsage adds one to total_queries, and to free_queries_used unless
// the account is Pro.
func (s *Store) IncrementUsage(ctx context.Context, userID string, pro bool) error {
	freeStep := 1
	if pro {
		freeStep = 0
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET total_queries = total_queries + 1,
			free_queries_used = free_queries_used + $2
		WHERE id = $1`,
		userID, freeStep,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *Store) InsertQuery(ctx context.Context, userID, question string, dataInfo sql.NullString) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO queries (user_id, question, data_info)
		VALUES ($1, $2, $3)`,
		userID, question, dataInfo,
	)
	return err
}

// UpdateSubscriptionByCustomer writes subscription state onto the account
// owning a payment-processor customer id.
func (s *Store) UpdateSubscriptionByCustomer(ctx context.Context, customerID string, sub models.Subscription) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET stripe_subscription_id = $2,
			stripe_price_id = $3,
			stripe_current_period_end = $4
		WHERE stripe_customer_id = $1`,
		customerID, sub.ID, sub.PriceID, sub.CurrentPeriodEnd,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// UpdateSubscriptionByID refreshes price and period end on the account that
// holds a subscription id.
func (s *Store) UpdateSubscriptionByID(ctx context.Context, sub models.Subscription) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET stripe_price_id = $2,
			stripe_current_period_end = $3
		WHERE stripe_subscription_id = $1`,
		sub.ID, sub.PriceID, sub.CurrentPeriodEnd,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *Store) SetStripeCustomerID(ctx context.Context, userID, customerID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET stripe_customer_id = $2
		WHERE id = $1`,
		userID, customerID,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func nullIfEmpty(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
