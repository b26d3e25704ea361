package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when no record matches
var ErrNotFound = errors.New("subscription not found")

// DatabaseSource hands out the shared connection pool
type DatabaseSource interface {
	DB() (*sql.DB, error)
}

// PostgresStore implements the ledger on the subscriptions table
type PostgresStore struct {
	source DatabaseSource
}

// NewPostgresStore creates a new PostgresStore
func NewPostgresStore(source DatabaseSource) *PostgresStore {
	return &PostgresStore{source: source}
}

const recordColumns = `
	id, user_id, stripe_customer_id, stripe_subscription_id, stripe_price_id, status,
	current_period_start, current_period_end, quota_limit, quota_used, created_at, updated_at`

// GetByUserID returns the record owned by userID
func (s *PostgresStore) GetByUserID(ctx context.Context, userID string) (*SubscriptionRecord, error) {
	db, err := s.source.DB()
	if err != nil {
		return nil, err
	}

	query := `SELECT` + recordColumns + ` FROM subscriptions WHERE user_id = $1`
	record, err := scanRecord(db.QueryRowContext(ctx, query, userID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return record, nil
}

// EnsureUser returns the user's record, creating a `none` record with no
// quota on first access.
func (s *PostgresStore) EnsureUser(ctx context.Context, userID string) (*SubscriptionRecord, error) {
	db, err := s.source.DB()
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO subscriptions (user_id, status, quota_limit, quota_used)
		VALUES ($1, $2, 0, 0)
		ON CONFLICT (user_id) DO NOTHING
	`
	if _, err := db.ExecContext(ctx, query, userID, StatusNone); err != nil {
		return nil, fmt.Errorf("failed to initialize subscription: %w", err)
	}

	return s.GetByUserID(ctx, userID)
}

// CustomerID returns the Stripe customer linked to userID, or "" when the
// user has none yet.
func (s *PostgresStore) CustomerID(ctx context.Context, userID string) (string, error) {
	db, err := s.source.DB()
	if err != nil {
		return "", err
	}

	var customerID sql.NullString
	err = db.QueryRowContext(ctx, `SELECT stripe_customer_id FROM subscriptions WHERE user_id = $1`, userID).Scan(&customerID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get customer ID: %w", err)
	}
	return customerID.String, nil
}

// AttachCustomer links a Stripe customer to userID, creating the row if needed
func (s *PostgresStore) AttachCustomer(ctx context.Context, userID, customerID string) error {
	db, err := s.source.DB()
	if err != nil {
		return err
	}

	query := `
		INSERT INTO subscriptions (user_id, stripe_customer_id)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE
		SET stripe_customer_id = EXCLUDED.stripe_customer_id, updated_at = NOW()
	`
	if _, err := db.ExecContext(ctx, query, userID, customerID); err != nil {
		return fmt.Errorf("failed to attach customer: %w", err)
	}
	return nil
}

// UpsertCheckout records a completed checkout and marks the record active.
// Absent subscription and price ids leave the stored values in place.
func (s *PostgresStore) UpsertCheckout(ctx context.Context, u CheckoutUpdate) error {
	db, err := s.source.DB()
	if err != nil {
		return err
	}

	query := `
		INSERT INTO subscriptions (stripe_customer_id, stripe_subscription_id, stripe_price_id, status, user_id)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (stripe_customer_id) DO UPDATE
		SET stripe_subscription_id = COALESCE(EXCLUDED.stripe_subscription_id, subscriptions.stripe_subscription_id),
		    stripe_price_id = COALESCE(EXCLUDED.stripe_price_id, subscriptions.stripe_price_id),
		    status = EXCLUDED.status,
		    user_id = COALESCE(subscriptions.user_id, EXCLUDED.user_id),
		    updated_at = NOW()
	`
	_, err = db.ExecContext(ctx, query,
		u.CustomerID, nullString(u.SubscriptionID), nullString(u.PriceID), StatusActive, nullString(u.UserID),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert checkout: %w", err)
	}
	return nil
}

// UpsertSubscription mirrors a Stripe subscription onto the record
func (s *PostgresStore) UpsertSubscription(ctx context.Context, u SubscriptionUpdate) error {
	db, err := s.source.DB()
	if err != nil {
		return err
	}

	query := `
		INSERT INTO subscriptions (
			stripe_customer_id, stripe_subscription_id, stripe_price_id, status,
			current_period_start, current_period_end, quota_limit
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (stripe_customer_id) DO UPDATE
		SET stripe_subscription_id = EXCLUDED.stripe_subscription_id,
		    stripe_price_id = EXCLUDED.stripe_price_id,
		    status = EXCLUDED.status,
		    current_period_start = EXCLUDED.current_period_start,
		    current_period_end = EXCLUDED.current_period_end,
		    quota_limit = EXCLUDED.quota_limit,
		    updated_at = NOW()
	`
	_, err = db.ExecContext(ctx, query,
		u.CustomerID, nullString(u.SubscriptionID), nullString(u.PriceID), u.Status,
		nullTime(u.PeriodStart), nullTime(u.PeriodEnd), u.QuotaLimit,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert subscription: %w", err)
	}
	return nil
}

// MarkCanceled sets status canceled for the customer, leaving quota untouched
func (s *PostgresStore) MarkCanceled(ctx context.Context, customerID string) error {
	return s.exec(ctx, "cancel subscription",
		`UPDATE subscriptions SET status = $1, updated_at = NOW() WHERE stripe_customer_id = $2`,
		StatusCanceled, customerID,
	)
}

// ResetQuota zeroes quota_used at a billing period rollover
func (s *PostgresStore) ResetQuota(ctx context.Context, customerID string) error {
	return s.exec(ctx, "reset quota",
		`UPDATE subscriptions SET quota_used = 0, updated_at = NOW() WHERE stripe_customer_id = $1`,
		customerID,
	)
}

// IncrementQuotaUsed records one successful generation for userID
func (s *PostgresStore) IncrementQuotaUsed(ctx context.Context, userID string) error {
	return s.exec(ctx, "increment quota usage",
		`UPDATE subscriptions SET quota_used = quota_used + 1, updated_at = NOW() WHERE user_id = $1`,
		userID,
	)
}

// exec runs a single-row update. Matching no row is not an error: Stripe may
// deliver events for customers this service never saw.
func (s *PostgresStore) exec(ctx context.Context, op, query string, args ...interface{}) error {
	db, err := s.source.DB()
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*SubscriptionRecord, error) {
	record := &SubscriptionRecord{}
	var userID, customerID, subscriptionID, priceID sql.NullString
	var periodStart, periodEnd sql.NullTime

	err := row.Scan(
		&record.ID, &userID, &customerID, &subscriptionID, &priceID, &record.Status,
		&periodStart, &periodEnd, &record.QuotaLimit, &record.QuotaUsed,
		&record.CreatedAt, &record.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	record.UserID = userID.String
	record.StripeCustomerID = customerID.String
	record.StripeSubscriptionID = subscriptionID.String
	record.StripePriceID = priceID.String
	if periodStart.Valid {
		record.CurrentPeriodStart = &periodStart.Time
	}
	if periodEnd.Valid {
		record.CurrentPeriodEnd = &periodEnd.Time
	}
	return record, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil || t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
