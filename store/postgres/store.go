package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/pgdriver"
	_ "github.com/xraph/grove/drivers/pgdriver/pgmigrate"
	"github.com/xraph/grove/migrate"

	"github.com/xraph/hotelledger"
	"github.com/xraph/hotelledger/activation"
	"github.com/xraph/hotelledger/credit"
	"github.com/xraph/hotelledger/event"
	"github.com/xraph/hotelledger/id"
	"github.com/xraph/hotelledger/organization"
	ledgerstore "github.com/xraph/hotelledger/store"
	"github.com/xraph/hotelledger/subscription"
)

// compile-time interface check
var _ ledgerstore.Store = (*Store)(nil)

// Store implements store.Store using PostgreSQL via Grove ORM.
type Store struct {
	db *grove.DB
	pg *pgdriver.PgDB
}

// New creates a new PostgreSQL store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db: db,
		pg: pgdriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.pg)
	if err != nil {
		return fmt.Errorf("hotelledger/postgres: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("hotelledger/postgres: %w: %w", hotelledger.ErrMigrationFailed, err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Organization Store ====================

func (s *Store) UpsertOrganization(ctx context.Context, o *organization.Organization) error {
	t := now()
	m := toOrganizationModel(o)
	if m.CreatedAt.IsZero() {
		m.CreatedAt = t
	}
	m.UpdatedAt = t
	if m.Metadata == nil {
		m.Metadata = map[string]string{}
	}
	_, err := s.pg.NewInsert(m).
		OnConflict("(id) DO UPDATE").
		Set("name = EXCLUDED.name").
		Set("billing_email = EXCLUDED.billing_email").
		Set("external_customer_id = COALESCE(NULLIF(EXCLUDED.external_customer_id, ''), hl_organizations.external_customer_id)").
		Set("metadata = EXCLUDED.metadata").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("hotelledger/postgres: upsert organization: %w", err)
	}
	return nil
}

func (s *Store) GetOrganization(ctx context.Context, orgID string) (*organization.Organization, error) {
	m := new(organizationModel)
	err := s.pg.NewSelect(m).Where("id = $1", orgID).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, hotelledger.ErrOrganizationNotFound
		}
		return nil, fmt.Errorf("hotelledger/postgres: get organization: %w", err)
	}
	return fromOrganizationModel(m), nil
}

func (s *Store) SetExternalCustomerID(ctx context.Context, orgID, customerID string) error {
	res, err := s.pg.NewUpdate((*organizationModel)(nil)).
		Set("external_customer_id = $1", customerID).
		Set("updated_at = $2", now()).
		Where("id = $3", orgID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("hotelledger/postgres: set external customer: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return hotelledger.ErrOrganizationNotFound
	}
	return nil
}

func (s *Store) UpsertHotel(ctx context.Context, h *organization.Hotel) error {
	t := now()
	m := toHotelModel(h)
	if m.CreatedAt.IsZero() {
		m.CreatedAt = t
	}
	m.UpdatedAt = t
	_, err := s.pg.NewInsert(m).
		OnConflict("(id) DO UPDATE").
		Set("organization_id = EXCLUDED.organization_id").
		Set("name = EXCLUDED.name").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("hotelledger/postgres: upsert hotel: %w", err)
	}
	return nil
}

func (s *Store) GetHotel(ctx context.Context, hotelID string) (*organization.Hotel, error) {
	m := new(hotelModel)
	err := s.pg.NewSelect(m).Where("id = $1", hotelID).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, hotelledger.ErrHotelNotFound
		}
		return nil, fmt.Errorf("hotelledger/postgres: get hotel: %w", err)
	}
	return fromHotelModel(m), nil
}

func (s *Store) ListHotels(ctx context.Context, orgID string) ([]*organization.Hotel, error) {
	var models []hotelModel
	err := s.pg.NewSelect(&models).
		Where("organization_id = $1", orgID).
		OrderExpr("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("hotelledger/postgres: list hotels: %w", err)
	}

	result := make([]*organization.Hotel, len(models))
	for i := range models {
		result[i] = fromHotelModel(&models[i])
	}
	return result, nil
}

// ==================== Subscription Store ====================

func (s *Store) GetSubscription(ctx context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	m := new(subscriptionModel)
	err := s.pg.NewSelect(m).Where("id = $1", subID.String()).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, hotelledger.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("hotelledger/postgres: get subscription: %w", err)
	}
	return fromSubscriptionModel(m)
}

func (s *Store) GetActiveSubscription(ctx context.Context, orgID string) (*subscription.Subscription, error) {
	m := new(subscriptionModel)
	err := s.pg.NewSelect(m).
		Where("organization_id = $1", orgID).
		Where("status = $2", string(subscription.StatusActive)).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, hotelledger.ErrNoActiveSubscription
		}
		return nil, fmt.Errorf("hotelledger/postgres: get active subscription: %w", err)
	}
	return fromSubscriptionModel(m)
}

func (s *Store) GetCurrentSubscription(ctx context.Context, orgID string) (*subscription.Subscription, error) {
	m := new(subscriptionModel)
	err := s.pg.NewSelect(m).
		Where("organization_id = $1", orgID).
		Where("status IN ('active', 'past_due', 'suspended')").
		OrderExpr("started_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, hotelledger.ErrNoActiveSubscription
		}
		return nil, fmt.Errorf("hotelledger/postgres: get current subscription: %w", err)
	}
	return fromSubscriptionModel(m)
}

func (s *Store) GetSubscriptionByExternalID(ctx context.Context, externalID string) (*subscription.Subscription, error) {
	m := new(subscriptionModel)
	err := s.pg.NewSelect(m).
		Where("external_subscription_id = $1", externalID).
		OrderExpr("started_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, hotelledger.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("hotelledger/postgres: get subscription by external id: %w", err)
	}
	return fromSubscriptionModel(m)
}

func (s *Store) ListSubscriptions(ctx context.Context, orgID string, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	var models []subscriptionModel
	q := s.pg.NewSelect(&models).Where("organization_id = $1", orgID)

	if opts.Status != "" {
		q = q.Where("status = $2", string(opts.Status))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("started_at DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("hotelledger/postgres: list subscriptions: %w", err)
	}

	result := make([]*subscription.Subscription, len(models))
	for i := range models {
		sub, err := fromSubscriptionModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = sub
	}
	return result, nil
}

// SupersedeSubscription closes the organization's live rows and inserts the
// new active row in one statement. The insert loses to a concurrently
// committed active row through the partial unique index.
func (s *Store) SupersedeSubscription(ctx context.Context, sub *subscription.Subscription) error {
	t := now()
	metadata, err := json.Marshal(nonNilMap(sub.Metadata))
	if err != nil {
		return fmt.Errorf("hotelledger/postgres: encode metadata: %w", err)
	}

	var inserted string
	err = s.pg.NewRaw(`
		WITH closed AS (
			UPDATE hl_subscriptions
			SET status = 'cancelled', ended_at = $2, updated_at = $2
			WHERE organization_id = $1 AND status IN ('active', 'past_due', 'suspended')
			RETURNING id
		)
		INSERT INTO hl_subscriptions (
			id, organization_id, plan_id, status, started_at, expires_at,
			external_customer_id, external_subscription_id, payment_failed_count,
			metadata, created_at, updated_at
		)
		SELECT $3, $1, $4, 'active', $5, $6, $7, $8, 0, $9::jsonb, $2, $2
		FROM (SELECT COUNT(*) FROM closed) AS c
		ON CONFLICT DO NOTHING
		RETURNING id
	`, sub.OrganizationID, t, sub.ID.String(), sub.PlanID, sub.StartedAt, sub.ExpiresAt,
		sub.ExternalCustomerID, sub.ExternalSubscriptionID, string(metadata)).Scan(ctx, &inserted)
	if err != nil {
		if isNoRows(err) {
			return hotelledger.ErrConflict
		}
		return fmt.Errorf("hotelledger/postgres: supersede subscription: %w", err)
	}

	sub.Status = subscription.StatusActive
	sub.PaymentFailedCount = 0
	sub.CreatedAt, sub.UpdatedAt = t, t
	return nil
}

func (s *Store) UpdateSubscriptionStatus(ctx context.Context, subID id.SubscriptionID, status subscription.Status) error {
	t := now()
	q := s.pg.NewUpdate((*subscriptionModel)(nil)).
		Set("status = $1", string(status)).
		Set("updated_at = $2", t)
	if status.Terminal() {
		q = q.Set("ended_at = COALESCE(ended_at, $3)", t).Where("id = $4", subID.String())
	} else {
		q = q.Where("id = $3", subID.String())
	}

	res, err := q.Exec(ctx)
	if err != nil {
		if isUniqueViolation(err) {
			return hotelledger.ErrConflict
		}
		return fmt.Errorf("hotelledger/postgres: update subscription status: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return hotelledger.ErrSubscriptionNotFound
	}
	return nil
}

func (s *Store) RecordPaymentFailure(ctx context.Context, subID id.SubscriptionID, threshold int) (*subscription.Subscription, error) {
	var updated string
	err := s.pg.NewRaw(`
		UPDATE hl_subscriptions
		SET payment_failed_count = payment_failed_count + 1,
		    status = CASE WHEN payment_failed_count + 1 >= $2 THEN 'suspended' ELSE 'past_due' END,
		    updated_at = $3
		WHERE id = $1 AND status IN ('active', 'past_due')
		RETURNING id
	`, subID.String(), threshold, now()).Scan(ctx, &updated)
	if err != nil && !isNoRows(err) {
		return nil, fmt.Errorf("hotelledger/postgres: record payment failure: %w", err)
	}
	return s.GetSubscription(ctx, subID)
}

func (s *Store) RestoreSubscription(ctx context.Context, subID id.SubscriptionID, expiresAt *time.Time) (*subscription.Subscription, error) {
	q := s.pg.NewUpdate((*subscriptionModel)(nil)).
		Set("status = $1", string(subscription.StatusActive)).
		Set("payment_failed_count = 0").
		Set("updated_at = $2", now())
	if expiresAt != nil {
		q = q.Set("expires_at = $3", *expiresAt).Where("id = $4", subID.String())
	} else {
		q = q.Where("id = $3", subID.String())
	}

	_, err := q.Where("status IN ('active', 'past_due', 'suspended')").Exec(ctx)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, hotelledger.ErrConflict
		}
		return nil, fmt.Errorf("hotelledger/postgres: restore subscription: %w", err)
	}
	return s.GetSubscription(ctx, subID)
}

// ==================== Credit Store ====================

// AppendTransaction derives seq and balances from the principal's head row
// inside a single conditional insert. No row back means the reference was
// taken, the balance would go negative, or another append won the seq.
func (s *Store) AppendTransaction(ctx context.Context, tx *credit.Transaction) error {
	t := now()
	var inserted string
	err := s.pg.NewRaw(`
		WITH head AS (
			SELECT
				COALESCE((SELECT seq FROM hl_ledger_transactions WHERE principal_id = $2 ORDER BY seq DESC LIMIT 1), 0) AS seq,
				COALESCE((SELECT balance_after FROM hl_ledger_transactions WHERE principal_id = $2 ORDER BY seq DESC LIMIT 1), 0) AS balance
		)
		INSERT INTO hl_ledger_transactions (
			id, principal_id, seq, amount, balance_before, balance_after,
			type, reference_id, description, created_at
		)
		SELECT $1, $2, head.seq + 1, $3::bigint, head.balance, head.balance + $3::bigint, $4, $5, $6, $7
		FROM head
		WHERE head.balance + $3::bigint >= 0
		ON CONFLICT DO NOTHING
		RETURNING id
	`, tx.ID.String(), tx.PrincipalID, tx.Amount, string(tx.Type), tx.ReferenceID, tx.Description, t).Scan(ctx, &inserted)
	if err != nil {
		if !isNoRows(err) {
			return fmt.Errorf("hotelledger/postgres: append transaction: %w", err)
		}
		return s.appendFailure(ctx, tx)
	}

	stored, err := s.GetTransaction(ctx, tx.ID)
	if err != nil {
		return err
	}
	*tx = *stored
	return nil
}

func (s *Store) appendFailure(ctx context.Context, tx *credit.Transaction) error {
	if tx.ReferenceID != "" {
		if _, err := s.GetTransactionByReference(ctx, tx.ReferenceID); err == nil {
			return hotelledger.ErrDuplicateReference
		}
	}
	var balance int64
	head, err := s.LastTransaction(ctx, tx.PrincipalID)
	switch {
	case err == nil:
		balance = head.BalanceAfter
	case !errors.Is(err, hotelledger.ErrTransactionNotFound):
		return err
	}
	if balance+tx.Amount < 0 {
		return hotelledger.ErrInsufficientBalance
	}
	return hotelledger.ErrConcurrentAppend
}

func (s *Store) GetTransaction(ctx context.Context, txID id.TransactionID) (*credit.Transaction, error) {
	m := new(transactionModel)
	err := s.pg.NewSelect(m).Where("id = $1", txID.String()).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, hotelledger.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("hotelledger/postgres: get transaction: %w", err)
	}
	return fromTransactionModel(m)
}

func (s *Store) GetTransactionByReference(ctx context.Context, referenceID string) (*credit.Transaction, error) {
	m := new(transactionModel)
	err := s.pg.NewSelect(m).Where("reference_id = $1", referenceID).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, hotelledger.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("hotelledger/postgres: get transaction by reference: %w", err)
	}
	return fromTransactionModel(m)
}

func (s *Store) LastTransaction(ctx context.Context, principalID string) (*credit.Transaction, error) {
	m := new(transactionModel)
	err := s.pg.NewSelect(m).
		Where("principal_id = $1", principalID).
		OrderExpr("seq DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, hotelledger.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("hotelledger/postgres: last transaction: %w", err)
	}
	return fromTransactionModel(m)
}

func (s *Store) ListTransactions(ctx context.Context, principalID string, opts credit.ListOpts) ([]*credit.Transaction, error) {
	var models []transactionModel
	q := s.pg.NewSelect(&models).Where("principal_id = $1", principalID)

	argIdx := 1
	if len(opts.Types) > 0 {
		argIdx++
		types := make([]string, len(opts.Types))
		for i, t := range opts.Types {
			types[i] = string(t)
		}
		q = q.Where(fmt.Sprintf("type = ANY($%d)", argIdx), types)
	}
	if opts.Since != nil {
		argIdx++
		q = q.Where(fmt.Sprintf("created_at >= $%d", argIdx), *opts.Since)
	}
	if opts.Until != nil {
		argIdx++
		q = q.Where(fmt.Sprintf("created_at < $%d", argIdx), *opts.Until)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	if opts.Ascending {
		q = q.OrderExpr("seq ASC")
	} else {
		q = q.OrderExpr("seq DESC")
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("hotelledger/postgres: list transactions: %w", err)
	}

	result := make([]*credit.Transaction, len(models))
	for i := range models {
		tx, err := fromTransactionModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = tx
	}
	return result, nil
}

// ==================== Activation Store ====================

func (s *Store) UpsertActivation(ctx context.Context, a *activation.Activation) error {
	t := now()
	m := toActivationModel(a)
	m.CreatedAt, m.UpdatedAt = t, t
	_, err := s.pg.NewInsert(m).
		OnConflict("(hotel_id, product_id) DO UPDATE").
		Set("status = EXCLUDED.status").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("hotelledger/postgres: upsert activation: %w", err)
	}
	return nil
}

func (s *Store) GetActivation(ctx context.Context, hotelID, productID string) (*activation.Activation, error) {
	m := new(activationModel)
	err := s.pg.NewSelect(m).
		Where("hotel_id = $1", hotelID).
		Where("product_id = $2", productID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, hotelledger.ErrActivationNotFound
		}
		return nil, fmt.Errorf("hotelledger/postgres: get activation: %w", err)
	}
	return fromActivationModel(m)
}

func (s *Store) ListActivations(ctx context.Context, hotelID string) ([]*activation.Activation, error) {
	var models []activationModel
	err := s.pg.NewSelect(&models).
		Where("hotel_id = $1", hotelID).
		OrderExpr("product_id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("hotelledger/postgres: list activations: %w", err)
	}

	result := make([]*activation.Activation, len(models))
	for i := range models {
		a, err := fromActivationModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = a
	}
	return result, nil
}

// ==================== Event Store ====================

func (s *Store) HasEvent(ctx context.Context, provider, externalID string) (bool, error) {
	var count int64
	err := s.pg.NewRaw(`
		SELECT COUNT(*) FROM hl_webhook_events WHERE provider = $1 AND external_id = $2
	`, provider, externalID).Scan(ctx, &count)
	if err != nil {
		return false, fmt.Errorf("hotelledger/postgres: has event: %w", err)
	}
	return count > 0, nil
}

func (s *Store) RecordEvent(ctx context.Context, e *event.Event) error {
	if e.ProcessedAt.IsZero() {
		e.ProcessedAt = now()
	}
	res, err := s.pg.NewInsert(toEventModel(e)).
		OnConflict("(provider, external_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("hotelledger/postgres: record event: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return hotelledger.ErrDuplicateEvent
	}
	return nil
}

func (s *Store) DeleteEvent(ctx context.Context, provider, externalID string) error {
	_, err := s.pg.NewRaw(`
		DELETE FROM hl_webhook_events WHERE provider = $1 AND external_id = $2
	`, provider, externalID).Exec(ctx)
	if err != nil {
		return fmt.Errorf("hotelledger/postgres: delete event: %w", err)
	}
	return nil
}

// ==================== Helpers ====================

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// isUniqueViolation reports a unique_violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func nonNilMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
