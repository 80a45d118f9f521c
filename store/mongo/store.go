package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"

	"github.com/xraph/hotelledger"
	"github.com/xraph/hotelledger/activation"
	"github.com/xraph/hotelledger/credit"
	"github.com/xraph/hotelledger/event"
	"github.com/xraph/hotelledger/id"
	"github.com/xraph/hotelledger/organization"
	ledgerstore "github.com/xraph/hotelledger/store"
	"github.com/xraph/hotelledger/subscription"
)

// Collection name constants.
const (
	colOrganizations = "hl_organizations"
	colHotels        = "hl_hotels"
	colSubscriptions = "hl_subscriptions"
	colTransactions  = "hl_ledger_transactions"
	colActivations   = "hl_product_activations"
	colEvents        = "hl_webhook_events"
)

var liveStatuses = bson.A{
	string(subscription.StatusActive),
	string(subscription.StatusPastDue),
	string(subscription.StatusSuspended),
}

// compile-time interface check
var _ ledgerstore.Store = (*Store)(nil)

// Store implements store.Store using MongoDB via Grove ORM.
type Store struct {
	db  *grove.DB
	mdb *mongodriver.MongoDB
}

// New creates a new MongoDB store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		mdb: mongodriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates indexes for all hotel ledger collections.
func (s *Store) Migrate(ctx context.Context) error {
	indexes := migrationIndexes()

	for col, models := range indexes {
		if len(models) == 0 {
			continue
		}
		_, err := s.mdb.Collection(col).Indexes().CreateMany(ctx, models)
		if err != nil {
			return fmt.Errorf("hotelledger/mongo: migrate %s indexes: %w", col, err)
		}
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
	set := bson.M{
		"name":          o.Name,
		"billing_email": o.BillingEmail,
		"metadata":      o.Metadata,
		"updated_at":    t,
	}
	if o.ExternalCustomerID != "" {
		set["external_customer_id"] = o.ExternalCustomerID
	}
	onInsert := bson.M{"created_at": t}
	if o.ExternalCustomerID == "" {
		onInsert["external_customer_id"] = ""
	}

	_, err := s.mdb.NewUpdate((*organizationModel)(nil)).
		Filter(bson.M{"_id": o.ID}).
		SetUpdate(bson.M{"$set": set, "$setOnInsert": onInsert}).
		Upsert().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("hotelledger/mongo: upsert organization: %w", err)
	}
	return nil
}

func (s *Store) GetOrganization(ctx context.Context, orgID string) (*organization.Organization, error) {
	var m organizationModel
	err := s.mdb.NewFind(&m).Filter(bson.M{"_id": orgID}).Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, hotelledger.ErrOrganizationNotFound
		}
		return nil, fmt.Errorf("hotelledger/mongo: get organization: %w", err)
	}
	return fromOrganizationModel(&m), nil
}

func (s *Store) SetExternalCustomerID(ctx context.Context, orgID, customerID string) error {
	res, err := s.mdb.NewUpdate((*organizationModel)(nil)).
		Filter(bson.M{"_id": orgID}).
		Set("external_customer_id", customerID).
		Set("updated_at", now()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("hotelledger/mongo: set external customer: %w", err)
	}
	if res.MatchedCount() == 0 {
		return hotelledger.ErrOrganizationNotFound
	}
	return nil
}

func (s *Store) UpsertHotel(ctx context.Context, h *organization.Hotel) error {
	t := now()
	_, err := s.mdb.NewUpdate((*hotelModel)(nil)).
		Filter(bson.M{"_id": h.ID}).
		SetUpdate(bson.M{
			"$set": bson.M{
				"organization_id": h.OrganizationID,
				"name":            h.Name,
				"updated_at":      t,
			},
			"$setOnInsert": bson.M{"created_at": t},
		}).
		Upsert().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("hotelledger/mongo: upsert hotel: %w", err)
	}
	return nil
}

func (s *Store) GetHotel(ctx context.Context, hotelID string) (*organization.Hotel, error) {
	var m hotelModel
	err := s.mdb.NewFind(&m).Filter(bson.M{"_id": hotelID}).Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, hotelledger.ErrHotelNotFound
		}
		return nil, fmt.Errorf("hotelledger/mongo: get hotel: %w", err)
	}
	return fromHotelModel(&m), nil
}

func (s *Store) ListHotels(ctx context.Context, orgID string) ([]*organization.Hotel, error) {
	var models []hotelModel
	err := s.mdb.NewFind(&models).
		Filter(bson.M{"organization_id": orgID}).
		Sort(bson.D{{Key: "_id", Value: 1}}).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("hotelledger/mongo: list hotels: %w", err)
	}

	result := make([]*organization.Hotel, len(models))
	for i := range models {
		result[i] = fromHotelModel(&models[i])
	}
	return result, nil
}

// ==================== Subscription Store ====================

func (s *Store) findSubscription(ctx context.Context, filter bson.M, notFound error) (*subscription.Subscription, error) {
	var m subscriptionModel
	err := s.mdb.NewFind(&m).
		Filter(filter).
		Sort(bson.D{{Key: "started_at", Value: -1}}).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, notFound
		}
		return nil, fmt.Errorf("hotelledger/mongo: find subscription: %w", err)
	}
	return fromSubscriptionModel(&m)
}

func (s *Store) GetSubscription(ctx context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	return s.findSubscription(ctx, bson.M{"_id": subID.String()}, hotelledger.ErrSubscriptionNotFound)
}

func (s *Store) GetActiveSubscription(ctx context.Context, orgID string) (*subscription.Subscription, error) {
	return s.findSubscription(ctx, bson.M{
		"organization_id": orgID,
		"status":          string(subscription.StatusActive),
	}, hotelledger.ErrNoActiveSubscription)
}

func (s *Store) GetCurrentSubscription(ctx context.Context, orgID string) (*subscription.Subscription, error) {
	return s.findSubscription(ctx, bson.M{
		"organization_id": orgID,
		"status":          bson.M{"$in": liveStatuses},
	}, hotelledger.ErrNoActiveSubscription)
}

func (s *Store) GetSubscriptionByExternalID(ctx context.Context, externalID string) (*subscription.Subscription, error) {
	return s.findSubscription(ctx, bson.M{"external_subscription_id": externalID}, hotelledger.ErrSubscriptionNotFound)
}

func (s *Store) ListSubscriptions(ctx context.Context, orgID string, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	var models []subscriptionModel
	filter := bson.M{"organization_id": orgID}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "started_at", Value: -1}})
	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("hotelledger/mongo: list subscriptions: %w", err)
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

// SupersedeSubscription closes the live rows and inserts the new one in a
// single transaction, so a rejected insert leaves the old subscription
// active. The partial unique index on active rows rejects the insert when a
// concurrent supersede got there first. Transactions need a replica set.
func (s *Store) SupersedeSubscription(ctx context.Context, sub *subscription.Subscription) error {
	coll := s.mdb.Collection(colSubscriptions)
	session, err := coll.Database().Client().StartSession()
	if err != nil {
		return fmt.Errorf("hotelledger/mongo: start session: %w", err)
	}
	defer session.EndSession(ctx)

	t := now()
	_, err = session.WithTransaction(ctx, func(ctx context.Context) (any, error) {
		_, err := coll.UpdateMany(ctx,
			bson.M{"organization_id": sub.OrganizationID, "status": bson.M{"$in": liveStatuses}},
			bson.M{"$set": bson.M{
				"status":     string(subscription.StatusCancelled),
				"ended_at":   t,
				"updated_at": t,
			}},
		)
		if err != nil {
			return nil, fmt.Errorf("hotelledger/mongo: close live subscriptions: %w", err)
		}

		m := toSubscriptionModel(sub)
		m.Status = string(subscription.StatusActive)
		m.PaymentFailedCount = 0
		m.EndedAt = nil
		m.CreatedAt, m.UpdatedAt = t, t
		if _, err := s.mdb.NewInsert(m).Exec(ctx); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return nil, hotelledger.ErrConflict
			}
			return nil, fmt.Errorf("hotelledger/mongo: insert subscription: %w", err)
		}
		return nil, nil
	})
	if err != nil {
		return err
	}

	sub.Status = subscription.StatusActive
	sub.PaymentFailedCount = 0
	sub.CreatedAt, sub.UpdatedAt = t, t
	return nil
}

func (s *Store) UpdateSubscriptionStatus(ctx context.Context, subID id.SubscriptionID, status subscription.Status) error {
	t := now()
	set := bson.M{"status": string(status), "updated_at": t}
	update := bson.M{"$set": set}
	res, err := s.mdb.Collection(colSubscriptions).UpdateOne(ctx, bson.M{"_id": subID.String()}, update)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return hotelledger.ErrConflict
		}
		return fmt.Errorf("hotelledger/mongo: update subscription status: %w", err)
	}
	if res.MatchedCount == 0 {
		return hotelledger.ErrSubscriptionNotFound
	}
	if status.Terminal() {
		_, err = s.mdb.Collection(colSubscriptions).UpdateOne(ctx,
			bson.M{"_id": subID.String(), "ended_at": bson.M{"$exists": false}},
			bson.M{"$set": bson.M{"ended_at": t}},
		)
		if err != nil {
			return fmt.Errorf("hotelledger/mongo: set ended_at: %w", err)
		}
	}
	return nil
}

// RecordPaymentFailure uses an update pipeline so the increment and the
// status decision happen in one document write.
func (s *Store) RecordPaymentFailure(ctx context.Context, subID id.SubscriptionID, threshold int) (*subscription.Subscription, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$set", Value: bson.M{
			"payment_failed_count": bson.M{"$add": bson.A{"$payment_failed_count", 1}},
			"updated_at":           now(),
		}}},
		{{Key: "$set", Value: bson.M{
			"status": bson.M{"$cond": bson.A{
				bson.M{"$gte": bson.A{"$payment_failed_count", threshold}},
				string(subscription.StatusSuspended),
				string(subscription.StatusPastDue),
			}},
		}}},
	}
	_, err := s.mdb.Collection(colSubscriptions).UpdateOne(ctx,
		bson.M{"_id": subID.String(), "status": bson.M{"$in": bson.A{
			string(subscription.StatusActive), string(subscription.StatusPastDue),
		}}},
		pipeline,
	)
	if err != nil {
		return nil, fmt.Errorf("hotelledger/mongo: record payment failure: %w", err)
	}
	return s.GetSubscription(ctx, subID)
}

func (s *Store) RestoreSubscription(ctx context.Context, subID id.SubscriptionID, expiresAt *time.Time) (*subscription.Subscription, error) {
	set := bson.M{
		"status":               string(subscription.StatusActive),
		"payment_failed_count": 0,
		"updated_at":           now(),
	}
	if expiresAt != nil {
		set["expires_at"] = *expiresAt
	}
	_, err := s.mdb.Collection(colSubscriptions).UpdateOne(ctx,
		bson.M{"_id": subID.String(), "status": bson.M{"$in": liveStatuses}},
		bson.M{"$set": set},
	)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, hotelledger.ErrConflict
		}
		return nil, fmt.Errorf("hotelledger/mongo: restore subscription: %w", err)
	}
	return s.GetSubscription(ctx, subID)
}

// ==================== Credit Store ====================

// AppendTransaction reads the head, checks the balance and inserts the next
// sequence number. The unique (principal_id, seq) index turns a concurrent
// append into a duplicate-key error.
func (s *Store) AppendTransaction(ctx context.Context, tx *credit.Transaction) error {
	var balance, seq int64
	head, err := s.LastTransaction(ctx, tx.PrincipalID)
	switch {
	case err == nil:
		balance, seq = head.BalanceAfter, head.Seq
	case !errors.Is(err, hotelledger.ErrTransactionNotFound):
		return err
	}

	if tx.ReferenceID != "" {
		if _, err := s.GetTransactionByReference(ctx, tx.ReferenceID); err == nil {
			return hotelledger.ErrDuplicateReference
		}
	}
	if balance+tx.Amount < 0 {
		return hotelledger.ErrInsufficientBalance
	}

	tx.Seq = seq + 1
	tx.BalanceBefore = balance
	tx.BalanceAfter = balance + tx.Amount
	tx.CreatedAt = now()

	if _, err := s.mdb.NewInsert(toTransactionModel(tx)).Exec(ctx); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			if tx.ReferenceID != "" {
				if _, refErr := s.GetTransactionByReference(ctx, tx.ReferenceID); refErr == nil {
					return hotelledger.ErrDuplicateReference
				}
			}
			return hotelledger.ErrConcurrentAppend
		}
		return fmt.Errorf("hotelledger/mongo: append transaction: %w", err)
	}
	return nil
}

func (s *Store) findTransaction(ctx context.Context, filter bson.M, sort bson.D) (*credit.Transaction, error) {
	var m transactionModel
	q := s.mdb.NewFind(&m).Filter(filter)
	if sort != nil {
		q = q.Sort(sort).Limit(1)
	}
	if err := q.Scan(ctx); err != nil {
		if isNoDocuments(err) {
			return nil, hotelledger.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("hotelledger/mongo: find transaction: %w", err)
	}
	return fromTransactionModel(&m)
}

func (s *Store) GetTransaction(ctx context.Context, txID id.TransactionID) (*credit.Transaction, error) {
	return s.findTransaction(ctx, bson.M{"_id": txID.String()}, nil)
}

func (s *Store) GetTransactionByReference(ctx context.Context, referenceID string) (*credit.Transaction, error) {
	return s.findTransaction(ctx, bson.M{"reference_id": referenceID}, nil)
}

func (s *Store) LastTransaction(ctx context.Context, principalID string) (*credit.Transaction, error) {
	return s.findTransaction(ctx, bson.M{"principal_id": principalID}, bson.D{{Key: "seq", Value: -1}})
}

func (s *Store) ListTransactions(ctx context.Context, principalID string, opts credit.ListOpts) ([]*credit.Transaction, error) {
	var models []transactionModel
	filter := bson.M{"principal_id": principalID}
	if len(opts.Types) > 0 {
		types := make(bson.A, len(opts.Types))
		for i, t := range opts.Types {
			types[i] = string(t)
		}
		filter["type"] = bson.M{"$in": types}
	}
	created := bson.M{}
	if opts.Since != nil {
		created["$gte"] = *opts.Since
	}
	if opts.Until != nil {
		created["$lt"] = *opts.Until
	}
	if len(created) > 0 {
		filter["created_at"] = created
	}

	order := -1
	if opts.Ascending {
		order = 1
	}
	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "seq", Value: order}})
	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("hotelledger/mongo: list transactions: %w", err)
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
	upsert := func() error {
		t := now()
		_, err := s.mdb.NewUpdate((*activationModel)(nil)).
			Filter(bson.M{"hotel_id": a.HotelID, "product_id": a.ProductID}).
			SetUpdate(bson.M{
				"$set": bson.M{
					"status":     string(a.Status),
					"updated_at": t,
				},
				"$setOnInsert": bson.M{
					"_id":        a.ID.String(),
					"created_at": t,
				},
			}).
			Upsert().
			Exec(ctx)
		return err
	}

	err := upsert()
	// Two concurrent upserts can both miss and race on the unique index;
	// the loser retries as an update.
	if err != nil && mongo.IsDuplicateKeyError(err) {
		err = upsert()
	}
	if err != nil {
		return fmt.Errorf("hotelledger/mongo: upsert activation: %w", err)
	}
	return nil
}

func (s *Store) GetActivation(ctx context.Context, hotelID, productID string) (*activation.Activation, error) {
	var m activationModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"hotel_id": hotelID, "product_id": productID}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, hotelledger.ErrActivationNotFound
		}
		return nil, fmt.Errorf("hotelledger/mongo: get activation: %w", err)
	}
	return fromActivationModel(&m)
}

func (s *Store) ListActivations(ctx context.Context, hotelID string) ([]*activation.Activation, error) {
	var models []activationModel
	err := s.mdb.NewFind(&models).
		Filter(bson.M{"hotel_id": hotelID}).
		Sort(bson.D{{Key: "product_id", Value: 1}}).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("hotelledger/mongo: list activations: %w", err)
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
	n, err := s.mdb.Collection(colEvents).CountDocuments(ctx, bson.M{
		"provider":    provider,
		"external_id": externalID,
	})
	if err != nil {
		return false, fmt.Errorf("hotelledger/mongo: has event: %w", err)
	}
	return n > 0, nil
}

func (s *Store) RecordEvent(ctx context.Context, e *event.Event) error {
	if e.ProcessedAt.IsZero() {
		e.ProcessedAt = now()
	}
	if _, err := s.mdb.NewInsert(toEventModel(e)).Exec(ctx); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return hotelledger.ErrDuplicateEvent
		}
		return fmt.Errorf("hotelledger/mongo: record event: %w", err)
	}
	return nil
}

func (s *Store) DeleteEvent(ctx context.Context, provider, externalID string) error {
	_, err := s.mdb.Collection(colEvents).DeleteOne(ctx, bson.M{
		"provider":    provider,
		"external_id": externalID,
	})
	if err != nil {
		return fmt.Errorf("hotelledger/mongo: delete event: %w", err)
	}
	return nil
}

// ==================== Helpers ====================

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

// isNoDocuments checks if an error wraps mongo.ErrNoDocuments.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// migrationIndexes returns the index definitions for all hotel ledger collections.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colOrganizations: {
			{Keys: bson.D{{Key: "billing_email", Value: 1}}},
		},
		colHotels: {
			{Keys: bson.D{{Key: "organization_id", Value: 1}}},
		},
		colSubscriptions: {
			{
				Keys: bson.D{{Key: "organization_id", Value: 1}},
				Options: options.Index().
					SetUnique(true).
					SetName("one_active_per_organization").
					SetPartialFilterExpression(bson.M{"status": string(subscription.StatusActive)}),
			},
			{Keys: bson.D{{Key: "organization_id", Value: 1}, {Key: "status", Value: 1}}},
			{Keys: bson.D{{Key: "external_subscription_id", Value: 1}, {Key: "started_at", Value: -1}}},
		},
		colTransactions: {
			{
				Keys:    bson.D{{Key: "principal_id", Value: 1}, {Key: "seq", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{
				Keys:    bson.D{{Key: "reference_id", Value: 1}},
				Options: options.Index().SetUnique(true).SetSparse(true),
			},
			{Keys: bson.D{{Key: "principal_id", Value: 1}, {Key: "created_at", Value: -1}}},
		},
		colActivations: {
			{
				Keys:    bson.D{{Key: "hotel_id", Value: 1}, {Key: "product_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		colEvents: {
			{
				Keys:    bson.D{{Key: "provider", Value: 1}, {Key: "external_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
	}
}
