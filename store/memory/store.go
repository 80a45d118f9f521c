package memory

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/xraph/hotelledger"
	"github.com/xraph/hotelledger/activation"
	"github.com/xraph/hotelledger/credit"
	"github.com/xraph/hotelledger/event"
	"github.com/xraph/hotelledger/id"
	"github.com/xraph/hotelledger/organization"
	"github.com/xraph/hotelledger/store"
	"github.com/xraph/hotelledger/subscription"
)

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

// Store keeps every entity in process memory behind a single lock. Copies
// are handed out so callers never alias stored rows.
type Store struct {
	mu sync.RWMutex

	organizations map[string]*organization.Organization
	hotels        map[string]*organization.Hotel

	subscriptions map[string]*subscription.Subscription

	// Ledger chains per principal, in Seq order.
	chains     map[string][]*credit.Transaction
	txByID     map[string]*credit.Transaction
	references map[string]*credit.Transaction

	// Activations keyed by hotelID + "/" + productID.
	activations map[string]*activation.Activation

	events map[string]*event.Event

	closed bool
}

func New() *Store {
	return &Store{
		organizations: make(map[string]*organization.Organization),
		hotels:        make(map[string]*organization.Hotel),
		subscriptions: make(map[string]*subscription.Subscription),
		chains:        make(map[string][]*credit.Transaction),
		txByID:        make(map[string]*credit.Transaction),
		references:    make(map[string]*credit.Transaction),
		activations:   make(map[string]*activation.Activation),
		events:        make(map[string]*event.Event),
	}
}

func now() time.Time { return time.Now().UTC() }

// ──────────────────────────────────────────────────
// Organization Store
// ──────────────────────────────────────────────────

func (s *Store) UpsertOrganization(_ context.Context, o *organization.Organization) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := now()
	cp := *o
	cp.Metadata = maps.Clone(o.Metadata)
	if existing, ok := s.organizations[o.ID]; ok {
		cp.CreatedAt = existing.CreatedAt
		if cp.ExternalCustomerID == "" {
			cp.ExternalCustomerID = existing.ExternalCustomerID
		}
	} else if cp.CreatedAt.IsZero() {
		cp.CreatedAt = t
	}
	cp.UpdatedAt = t
	s.organizations[o.ID] = &cp
	return nil
}

func (s *Store) GetOrganization(_ context.Context, orgID string) (*organization.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.organizations[orgID]
	if !ok {
		return nil, hotelledger.ErrOrganizationNotFound
	}
	cp := *o
	cp.Metadata = maps.Clone(o.Metadata)
	return &cp, nil
}

func (s *Store) SetExternalCustomerID(_ context.Context, orgID, customerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.organizations[orgID]
	if !ok {
		return hotelledger.ErrOrganizationNotFound
	}
	o.ExternalCustomerID = customerID
	o.UpdatedAt = now()
	return nil
}

func (s *Store) UpsertHotel(_ context.Context, h *organization.Hotel) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := now()
	cp := *h
	if existing, ok := s.hotels[h.ID]; ok {
		cp.CreatedAt = existing.CreatedAt
	} else if cp.CreatedAt.IsZero() {
		cp.CreatedAt = t
	}
	cp.UpdatedAt = t
	s.hotels[h.ID] = &cp
	return nil
}

func (s *Store) GetHotel(_ context.Context, hotelID string) (*organization.Hotel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.hotels[hotelID]
	if !ok {
		return nil, hotelledger.ErrHotelNotFound
	}
	cp := *h
	return &cp, nil
}

func (s *Store) ListHotels(_ context.Context, orgID string) ([]*organization.Hotel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*organization.Hotel, 0)
	for _, h := range s.hotels {
		if h.OrganizationID == orgID {
			cp := *h
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// ──────────────────────────────────────────────────
// Subscription Store
// ──────────────────────────────────────────────────

func copySub(sub *subscription.Subscription) *subscription.Subscription {
	cp := *sub
	cp.Metadata = maps.Clone(sub.Metadata)
	return &cp
}

func (s *Store) GetSubscription(_ context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subscriptions[subID.String()]
	if !ok {
		return nil, hotelledger.ErrSubscriptionNotFound
	}
	return copySub(sub), nil
}

func (s *Store) GetActiveSubscription(_ context.Context, orgID string) (*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sub := range s.subscriptions {
		if sub.OrganizationID == orgID && sub.Status == subscription.StatusActive {
			return copySub(sub), nil
		}
	}
	return nil, hotelledger.ErrNoActiveSubscription
}

func (s *Store) GetCurrentSubscription(_ context.Context, orgID string) (*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var current *subscription.Subscription
	for _, sub := range s.subscriptions {
		if sub.OrganizationID != orgID || !sub.Status.Live() {
			continue
		}
		if current == nil || sub.StartedAt.After(current.StartedAt) {
			current = sub
		}
	}
	if current == nil {
		return nil, hotelledger.ErrNoActiveSubscription
	}
	return copySub(current), nil
}

func (s *Store) GetSubscriptionByExternalID(_ context.Context, externalID string) (*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *subscription.Subscription
	for _, sub := range s.subscriptions {
		if sub.ExternalSubscriptionID != externalID {
			continue
		}
		if latest == nil || sub.StartedAt.After(latest.StartedAt) {
			latest = sub
		}
	}
	if latest == nil {
		return nil, hotelledger.ErrSubscriptionNotFound
	}
	return copySub(latest), nil
}

func (s *Store) ListSubscriptions(_ context.Context, orgID string, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*subscription.Subscription, 0)
	for _, sub := range s.subscriptions {
		if sub.OrganizationID == orgID && (opts.Status == "" || sub.Status == opts.Status) {
			result = append(result, copySub(sub))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].StartedAt.After(result[j].StartedAt) })

	return paginate(result, opts.Offset, opts.Limit), nil
}

func (s *Store) SupersedeSubscription(_ context.Context, sub *subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := now()
	for _, existing := range s.subscriptions {
		if existing.OrganizationID == sub.OrganizationID && existing.Status.Live() {
			existing.Status = subscription.StatusCancelled
			existing.EndedAt = &t
			existing.UpdatedAt = t
		}
	}

	cp := copySub(sub)
	cp.Status = subscription.StatusActive
	cp.CreatedAt, cp.UpdatedAt = t, t
	s.subscriptions[sub.ID.String()] = cp
	sub.Status = subscription.StatusActive
	sub.CreatedAt, sub.UpdatedAt = t, t
	return nil
}

func (s *Store) UpdateSubscriptionStatus(_ context.Context, subID id.SubscriptionID, status subscription.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[subID.String()]
	if !ok {
		return hotelledger.ErrSubscriptionNotFound
	}
	if status == subscription.StatusActive && sub.Status != status && s.hasOtherActive(sub) {
		return hotelledger.ErrConflict
	}
	t := now()
	sub.Status = status
	sub.UpdatedAt = t
	if status.Terminal() && sub.EndedAt == nil {
		sub.EndedAt = &t
	}
	return nil
}

func (s *Store) RecordPaymentFailure(_ context.Context, subID id.SubscriptionID, threshold int) (*subscription.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[subID.String()]
	if !ok {
		return nil, hotelledger.ErrSubscriptionNotFound
	}
	if sub.Status != subscription.StatusActive && sub.Status != subscription.StatusPastDue {
		return copySub(sub), nil
	}
	sub.PaymentFailedCount++
	if sub.PaymentFailedCount >= threshold {
		sub.Status = subscription.StatusSuspended
	} else {
		sub.Status = subscription.StatusPastDue
	}
	sub.UpdatedAt = now()
	return copySub(sub), nil
}

func (s *Store) RestoreSubscription(_ context.Context, subID id.SubscriptionID, expiresAt *time.Time) (*subscription.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[subID.String()]
	if !ok {
		return nil, hotelledger.ErrSubscriptionNotFound
	}
	if !sub.Status.Live() {
		return copySub(sub), nil
	}
	if sub.Status != subscription.StatusActive && s.hasOtherActive(sub) {
		return nil, hotelledger.ErrConflict
	}
	sub.Status = subscription.StatusActive
	sub.PaymentFailedCount = 0
	if expiresAt != nil {
		exp := *expiresAt
		sub.ExpiresAt = &exp
	}
	sub.UpdatedAt = now()
	return copySub(sub), nil
}

func (s *Store) hasOtherActive(sub *subscription.Subscription) bool {
	for _, other := range s.subscriptions {
		if other.ID != sub.ID && other.OrganizationID == sub.OrganizationID && other.Status == subscription.StatusActive {
			return true
		}
	}
	return false
}

// ──────────────────────────────────────────────────
// Credit Store
// ──────────────────────────────────────────────────

func (s *Store) AppendTransaction(_ context.Context, tx *credit.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tx.ReferenceID != "" {
		if _, dup := s.references[tx.ReferenceID]; dup {
			return hotelledger.ErrDuplicateReference
		}
	}

	chain := s.chains[tx.PrincipalID]
	var balance, seq int64
	if n := len(chain); n > 0 {
		balance = chain[n-1].BalanceAfter
		seq = chain[n-1].Seq
	}
	if balance+tx.Amount < 0 {
		return hotelledger.ErrInsufficientBalance
	}

	tx.Seq = seq + 1
	tx.BalanceBefore = balance
	tx.BalanceAfter = balance + tx.Amount
	tx.CreatedAt = now()

	cp := *tx
	s.chains[tx.PrincipalID] = append(chain, &cp)
	s.txByID[tx.ID.String()] = &cp
	if tx.ReferenceID != "" {
		s.references[tx.ReferenceID] = &cp
	}
	return nil
}

func (s *Store) GetTransaction(_ context.Context, txID id.TransactionID) (*credit.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.txByID[txID.String()]
	if !ok {
		return nil, hotelledger.ErrTransactionNotFound
	}
	cp := *tx
	return &cp, nil
}

func (s *Store) GetTransactionByReference(_ context.Context, referenceID string) (*credit.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.references[referenceID]
	if !ok {
		return nil, hotelledger.ErrTransactionNotFound
	}
	cp := *tx
	return &cp, nil
}

func (s *Store) LastTransaction(_ context.Context, principalID string) (*credit.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chain := s.chains[principalID]
	if len(chain) == 0 {
		return nil, hotelledger.ErrTransactionNotFound
	}
	cp := *chain[len(chain)-1]
	return &cp, nil
}

func (s *Store) ListTransactions(_ context.Context, principalID string, opts credit.ListOpts) ([]*credit.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*credit.Transaction, 0)
	for _, tx := range s.chains[principalID] {
		if len(opts.Types) > 0 && !slices.Contains(opts.Types, tx.Type) {
			continue
		}
		if opts.Since != nil && tx.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && !tx.CreatedAt.Before(*opts.Until) {
			continue
		}
		cp := *tx
		result = append(result, &cp)
	}
	if !opts.Ascending {
		slices.Reverse(result)
	}

	return paginate(result, opts.Offset, opts.Limit), nil
}

// ──────────────────────────────────────────────────
// Activation Store
// ──────────────────────────────────────────────────

func activationKey(hotelID, productID string) string { return hotelID + "/" + productID }

func (s *Store) UpsertActivation(_ context.Context, a *activation.Activation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := now()
	key := activationKey(a.HotelID, a.ProductID)
	if existing, ok := s.activations[key]; ok {
		existing.Status = a.Status
		existing.UpdatedAt = t
		return nil
	}

	cp := *a
	cp.CreatedAt, cp.UpdatedAt = t, t
	s.activations[key] = &cp
	return nil
}

func (s *Store) GetActivation(_ context.Context, hotelID, productID string) (*activation.Activation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.activations[activationKey(hotelID, productID)]
	if !ok {
		return nil, hotelledger.ErrActivationNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *Store) ListActivations(_ context.Context, hotelID string) ([]*activation.Activation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*activation.Activation, 0)
	for _, a := range s.activations {
		if a.HotelID == hotelID {
			cp := *a
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ProductID < result[j].ProductID })
	return result, nil
}

// ──────────────────────────────────────────────────
// Event Store
// ──────────────────────────────────────────────────

func eventKey(provider, externalID string) string { return provider + "/" + externalID }

func (s *Store) HasEvent(_ context.Context, provider, externalID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.events[eventKey(provider, externalID)]
	return ok, nil
}

func (s *Store) RecordEvent(_ context.Context, e *event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := eventKey(e.Provider, e.ExternalID)
	if _, ok := s.events[key]; ok {
		return hotelledger.ErrDuplicateEvent
	}
	if e.ProcessedAt.IsZero() {
		e.ProcessedAt = now()
	}
	cp := *e
	s.events[key] = &cp
	return nil
}

func (s *Store) DeleteEvent(_ context.Context, provider, externalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.events, eventKey(provider, externalID))
	return nil
}

// ──────────────────────────────────────────────────
// Core
// ──────────────────────────────────────────────────

func (s *Store) Migrate(_ context.Context) error { return nil }

func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return hotelledger.ErrStoreClosed
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}

func paginate[T any](items []T, offset, limit int) []T {
	start := offset
	if start > len(items) {
		start = len(items)
	}
	end := start + limit
	if limit == 0 || end > len(items) {
		end = len(items)
	}
	return items[start:end]
}
