package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/sqlitedriver"
	_ "github.com/xraph/grove/drivers/sqlitedriver/sqlitemigrate"
	"github.com/xraph/grove/migrate"
	moderncsqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

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

// Store implements store.Store using SQLite via Grove ORM.
type Store struct {
	db  *grove.DB
	sdb *sqlitedriver.SqliteDB
}

// New creates a new SQLite store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		sdb: sqlitedriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.sdb)
	if err != nil {
		return fmt.Errorf("hotelledger/sqlite: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("hotelledger/sqlite: %w: %w", hotelledger.ErrMigrationFailed, err)
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
	_, err := s.sdb.NewInsert(m).
		OnConflict("(id) DO UPDATE").
		Set("name = EXCLUDED.name").
		Set("billing_email = EXCLUDED.billing_email").
		Set("external_customer_id = COALESCE(NULLIF(EXCLUDED.external_customer_id, ''), hl_organizations.external_customer_id)").
		Set("metadata = EXCLUDED.metadata").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("hotelledger/sqlite: upsert organization: %w", err)
	}
	return nil
}

func (s *Store) GetOrganization(ctx context.Context, orgID string) (*organization.Organization, error) {
	m := new(organizationModel)
	err := s.sdb.NewSelect(m).Where("id = ?", orgID).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, hotelledger.ErrOrganizationNotFound
		}
		return nil, fmt.Errorf("hotelledger/sqlite: get organization: %w", err)
	}
	return fromOrganizationModel(m), nil
}

func (s *Store) SetExternalCustomerID(ctx context.Context, orgID, customerID string) error {
	res, err := s.sdb.NewUpdate((*organizationModel)(nil)).
		Set("external_customer_id = ?", customerID).
		Set("updated_at = ?", now()).
		Where("id = ?", orgID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("hotelledger/sqlite: set external customer: %w", err)
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
	_, err := s.sdb.NewInsert(m).
		OnConflict("(id) DO UPDATE").
		Set("organization_id = EXCLUDED.organization_id").
		Set("name = EXCLUDED.name").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("hotelledger/sqlite: upsert hotel: %w", err)
	}
	return nil
}

func (s *Store) GetHotel(ctx context.Context, hotelID string) (*organization.Hotel, error) {
	m := new(hotelModel)
	err := s.sdb.NewSelect(m).Where("id = ?", hotelID).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, hotelledger.ErrHotelNotFound
		}
		return nil, fmt.Errorf("hotelledger/sqlite: get hotel: %w", err)
	}
	return fromHotelModel(m), nil
}

func (s *Store) ListHotels(ctx context.Context, orgID string) ([]*organization.Hotel, error) {
	var models []hotelModel
	err := s.sdb.NewSelect(&models).
		Where("organization_id = ?", orgID).
		OrderExpr("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("hotelledger/sqlite: list hotels: %w", err)
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
	err := s.sdb.NewSelect(m).Where("id = ?", subID.String()).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, hotelledger.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("hotelledger/sqlite: get subscription: %w", err)
	}
	return fromSubscriptionModel(m)
}

func (s *Store) GetActiveSubscription(ctx context.Context, orgID string) (*subscription.Subscription, error) {
	m := new(subscriptionModel)
	err := s.sdb.NewSelect(m).
		Where("organization_id = ?", orgID).
		Where("status = ?", string(subscription.StatusActive)).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, hotelledger.ErrNoActiveSubscription
		}
		return nil, fmt.Errorf("hotelledger/sqlite: get active subscription: %w", err)
	}
	return fromSubscriptionModel(m)
}

func (s *Store) GetCurrentSubscription(ctx context.Context, orgID string) (*subscription.Subscription, error) {
	m := new(subscriptionModel)
	err := s.sdb.NewSelect(m).
		Where("organization_id = ?", orgID).
		Where("status IN ('active', 'past_due', 'suspended')").
		OrderExpr("started_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, hotelledger.ErrNoActiveSubscription
		}
		return nil, fmt.Errorf("hotelledger/sqlite: get current subscription: %w", err)
	}
	return fromSubscriptionModel(m)
}

func (s *Store) GetSubscriptionByExternalID(ctx context.Context, externalID string) (*subscription.Subscription, error) {
	m := new(subscriptionModel)
	err := s.sdb.NewSelect(m).
		Where("external_subscription_id = ?", externalID).
		OrderExpr("started_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, hotelledger.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("hotelledger/sqlite: get subscription by external id: %w", err)
	}
	return fromSubscriptionModel(m)
}

func (s *Store) ListSubscriptions(ctx context.Context, orgID string, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	var models []subscriptionModel
	q := s.sdb.NewSelect(&models).Where("organization_id = ?", orgID)

	if opts.Status != "" {
		q = q.Where("status = ?", string(opts.Status))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("started_at DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("hotelledger/sqlite: list subscriptions: %w", err)
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

// SupersedeSubscription closes the live subscriptions and inserts the new
// one in a single transaction. The partial unique index turns a lost race
// into a skipped insert, which rolls the close back.
func (s *Store) SupersedeSubscription(ctx context.Context, sub *subscription.Subscription) error {
	tx, err := s.sdb.BeginTxQuery(ctx, nil)
	if err != nil {
		return fmt.Errorf("hotelledger/sqlite: begin supersede: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	t := now()
	_, err = tx.NewUpdate((*subscriptionModel)(nil)).
		Set("status = ?", string(subscription.StatusCancelled)).
		Set("ended_at = ?", t).
		Set("updated_at = ?", t).
		Where("organization_id = ?", sub.OrganizationID).
		Where("status IN ('active', 'past_due', 'suspended')").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("hotelledger/sqlite: close live subscriptions: %w", err)
	}

	m := &subscriptionModel{
		ID:                     sub.ID.String(),
		OrganizationID:         sub.OrganizationID,
		PlanID:                 sub.PlanID,
		Status:                 string(subscription.StatusActive),
		StartedAt:              sub.StartedAt,
		ExpiresAt:              sub.ExpiresAt,
		ExternalCustomerID:     sub.ExternalCustomerID,
		ExternalSubscriptionID: sub.ExternalSubscriptionID,
		Metadata:               nonNilMap(sub.Metadata),
		CreatedAt:              t,
		UpdatedAt:              t,
	}
	res, err := tx.NewInsert(m).OnConflict("DO NOTHING").Exec(ctx)
	if err != nil {
		return fmt.Errorf("hotelledger/sqlite: insert subscription: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return hotelledger.ErrConflict
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("hotelledger/sqlite: commit supersede: %w", err)
	}

	sub.Status = subscription.StatusActive
	sub.PaymentFailedCount = 0
	sub.CreatedAt, sub.UpdatedAt = t, t
	return nil
}

func (s *Store) UpdateSubscriptionStatus(ctx context.Context, subID id.SubscriptionID, status subscription.Status) error {
	t := now()
	q := s.sdb.NewUpdate((*subscriptionModel)(nil)).
		Set("status = ?", string(status)).
		Set("updated_at = ?", t)
	if status.Terminal() {
		q = q.Set("ended_at = COALESCE(ended_at, ?)", t)
	}

	res, err := q.Where("id = ?", subID.String()).Exec(ctx)
	if err != nil {
		if isUniqueViolation(err) {
			return hotelledger.ErrConflict
		}
		return fmt.Errorf("hotelledger/sqlite: update subscription status: %w", err)
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
	_, err := s.sdb.NewUpdate((*subscriptionModel)(nil)).
		Set("payment_failed_count = payment_failed_count + 1").
		Set("status = CASE WHEN payment_failed_count + 1 >= ? THEN 'suspended' ELSE 'past_due' END", threshold).
		Set("updated_at = ?", now()).
		Where("id = ?", subID.String()).
		Where("status IN ('active', 'past_due')").
		Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("hotelledger/sqlite: record payment failure: %w", err)
	}
	return s.GetSubscription(ctx, subID)
}

func (s *Store) RestoreSubscription(ctx context.Context, subID id.SubscriptionID, expiresAt *time.Time) (*subscription.Subscription, error) {
	q := s.sdb.NewUpdate((*subscriptionModel)(nil)).
		Set("status = ?", string(subscription.StatusActive)).
		Set("payment_failed_count = 0").
		Set("updated_at = ?", now())
	if expiresAt != nil {
		q = q.Set("expires_at = ?", *expiresAt)
	}

	_, err := q.Where("id = ?", subID.String()).
		Where("status IN ('active', 'past_due', 'suspended')").
		Exec(ctx)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, hotelledger.ErrConflict
		}
		return nil, fmt.Errorf("hotelledger/sqlite: restore subscription: %w", err)
	}
	return s.GetSubscription(ctx, subID)
}

// ==================== Credit Store ====================

// AppendTransaction mirrors the postgres conditional insert; SQLite needs
// the principal and amount bound once per placeholder.
func (s *Store) AppendTransaction(ctx context.Context, tx *credit.Transaction) error {
	t := now()
	var inserted string
	err := s.sdb.NewRaw(`
		WITH head AS (
			SELECT
				COALESCE((SELECT seq FROM hl_ledger_transactions WHERE principal_id = ? ORDER BY seq DESC LIMIT 1), 0) AS seq,
				COALESCE((SELECT balance_after FROM hl_ledger_transactions WHERE principal_id = ? ORDER BY seq DESC LIMIT 1), 0) AS balance
		)
		INSERT INTO hl_ledger_transactions (
			id, principal_id, seq, amount, balance_before, balance_after,
			type, reference_id, description, created_at
		)
		SELECT ?, ?, head.seq + 1, ?, head.balance, head.balance + ?, ?, ?, ?, ?
		FROM head
		WHERE head.balance + ? >= 0
		ON CONFLICT DO NOTHING
		RETURNING id
	`, tx.PrincipalID, tx.PrincipalID,
		tx.ID.String(), tx.PrincipalID, tx.Amount, tx.Amount, string(tx.Type), tx.ReferenceID, tx.Description, t,
		tx.Amount).Scan(ctx, &inserted)
	if err != nil {
		if !isNoRows(err) {
			return fmt.Errorf("hotelledger/sqlite: append transaction: %w", err)
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
	err := s.sdb.NewSelect(m).Where("id = ?", txID.String()).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, hotelledger.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("hotelledger/sqlite: get transaction: %w", err)
	}
	return fromTransactionModel(m)
}

func (s *Store) GetTransactionByReference(ctx context.Context, referenceID string) (*credit.Transaction, error) {
	m := new(transactionModel)
	err := s.sdb.NewSelect(m).Where("reference_id = ?", referenceID).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, hotelledger.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("hotelledger/sqlite: get transaction by reference: %w", err)
	}
	return fromTransactionModel(m)
}

func (s *Store) LastTransaction(ctx context.Context, principalID string) (*credit.Transaction, error) {
	m := new(transactionModel)
	err := s.sdb.NewSelect(m).
		Where("principal_id = ?", principalID).
		OrderExpr("seq DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, hotelledger.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("hotelledger/sqlite: last transaction: %w", err)
	}
	return fromTransactionModel(m)
}

func (s *Store) ListTransactions(ctx context.Context, principalID string, opts credit.ListOpts) ([]*credit.Transaction, error) {
	var models []transactionModel
	q := s.sdb.NewSelect(&models).Where("principal_id = ?", principalID)

	if len(opts.Types) > 0 {
		placeholders := make([]string, len(opts.Types))
		args := make([]any, len(opts.Types))
		for i, t := range opts.Types {
			placeholders[i] = "?"
			args[i] = string(t)
		}
		q = q.Where("type IN ("+strings.Join(placeholders, ", ")+")", args...)
	}
	if opts.Since != nil {
		q = q.Where("created_at >= ?", opts.Since.UTC())
	}
	if opts.Until != nil {
		q = q.Where("created_at < ?", opts.Until.UTC())
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
		return nil, fmt.Errorf("hotelledger/sqlite: list transactions: %w", err)
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
	_, err := s.sdb.NewInsert(m).
		OnConflict("(hotel_id, product_id) DO UPDATE").
		Set("status = EXCLUDED.status").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("hotelledger/sqlite: upsert activation: %w", err)
	}
	return nil
}

func (s *Store) GetActivation(ctx context.Context, hotelID, productID string) (*activation.Activation, error) {
	m := new(activationModel)
	err := s.sdb.NewSelect(m).
		Where("hotel_id = ?", hotelID).
		Where("product_id = ?", productID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, hotelledger.ErrActivationNotFound
		}
		return nil, fmt.Errorf("hotelledger/sqlite: get activation: %w", err)
	}
	return fromActivationModel(m)
}

func (s *Store) ListActivations(ctx context.Context, hotelID string) ([]*activation.Activation, error) {
	var models []activationModel
	err := s.sdb.NewSelect(&models).
		Where("hotel_id = ?", hotelID).
		OrderExpr("product_id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("hotelledger/sqlite: list activations: %w", err)
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
	err := s.sdb.NewRaw(`
		SELECT COUNT(*) FROM hl_webhook_events WHERE provider = ? AND external_id = ?
	`, provider, externalID).Scan(ctx, &count)
	if err != nil {
		return false, fmt.Errorf("hotelledger/sqlite: has event: %w", err)
	}
	return count > 0, nil
}

func (s *Store) RecordEvent(ctx context.Context, e *event.Event) error {
	if e.ProcessedAt.IsZero() {
		e.ProcessedAt = now()
	}
	res, err := s.sdb.NewInsert(toEventModel(e)).
		OnConflict("(provider, external_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("hotelledger/sqlite: record event: %w", err)
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
	_, err := s.sdb.NewRaw(`
		DELETE FROM hl_webhook_events WHERE provider = ? AND external_id = ?
	`, provider, externalID).Exec(ctx)
	if err != nil {
		return fmt.Errorf("hotelledger/sqlite: delete event: %w", err)
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

func isUniqueViolation(err error) bool {
	var sqliteErr *moderncsqlite.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
}

func nonNilMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
