// Package mock provides the null-object payment provider used when no
// provider secret key is configured. It never performs network calls; its
// sessions carry Mock=true and point at the caller's success URL.
package mock

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/xraph/hotelledger"
	"github.com/xraph/hotelledger/provider"
)

// Name is the provider name recorded with processed events.
const Name = "mock"

// Provider is an in-memory provider.Provider.
type Provider struct {
	mu        sync.Mutex
	customers map[string]*provider.Customer // keyed by lower-cased email
	sessions  []provider.SessionParams
	cancelled []string
	seq       int
	unsigned  bool
	logger    *slog.Logger
}

var _ provider.Provider = (*Provider)(nil)

// Option configures the mock provider.
type Option func(*Provider)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) { p.logger = l }
}

// WithCustomer seeds a customer that FindCustomerByEmail will return.
func WithCustomer(c provider.Customer) Option {
	return func(p *Provider) {
		cp := c
		p.customers[strings.ToLower(c.Email)] = &cp
	}
}

// WithUnsignedEvents makes ParseEvent accept unsigned event envelopes.
// Without it the mock rejects every webhook with
// provider.ErrWebhookNotConfigured. Local development only.
func WithUnsignedEvents() Option {
	return func(p *Provider) { p.unsigned = true }
}

// New creates a mock provider.
func New(opts ...Option) *Provider {
	p := &Provider{
		customers: make(map[string]*provider.Customer),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) Name() string { return Name }

func (p *Provider) FindCustomerByEmail(_ context.Context, email string) (*provider.Customer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	c, ok := p.customers[strings.ToLower(email)]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (p *Provider) CreateCustomer(_ context.Context, params provider.CustomerParams) (*provider.Customer, error) {
	if params.Email == "" {
		return nil, hotelledger.Required("email")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	c := &provider.Customer{
		ID:    "cus_mock_" + digest(strings.ToLower(params.Email)),
		Email: params.Email,
		Name:  params.Name,
	}
	p.customers[strings.ToLower(params.Email)] = c
	cp := *c
	return &cp, nil
}

// CreateCheckoutSession records the request and returns a session whose URL
// is the success URL, so the browser flow completes without a provider.
func (p *Provider) CreateCheckoutSession(_ context.Context, params provider.SessionParams) (*provider.Session, error) {
	p.mu.Lock()
	p.seq++
	seq := p.seq
	p.sessions = append(p.sessions, params)
	p.mu.Unlock()

	id := fmt.Sprintf("cs_mock_%s_%d", digest(sessionKey(params)), seq)
	url := params.SuccessURL
	if url == "" {
		url = "about:blank"
	}

	p.logger.Info("mock checkout session created",
		"session_id", id,
		"mode", params.Mode,
		"organization_id", params.Metadata[provider.MetaOrganizationID],
	)

	return &provider.Session{
		ID:         id,
		URL:        url,
		CustomerID: params.CustomerID,
		Mode:       params.Mode,
		Mock:       true,
	}, nil
}

func (p *Provider) CancelSubscription(_ context.Context, externalSubscriptionID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelled = append(p.cancelled, externalSubscriptionID)
	return nil
}

// ParseEvent decodes an unsigned event envelope when the provider was built
// WithUnsignedEvents; otherwise it fails with
// provider.ErrWebhookNotConfigured. The signature is ignored.
//
//	{"id":"evt_1","type":"checkout.session.completed","created":1700000000,
//	 "checkout":{...},"invoice":{...},"subscription":{...}}
func (p *Provider) ParseEvent(payload []byte, _ string) (*provider.Event, error) {
	if !p.unsigned {
		return nil, provider.ErrWebhookNotConfigured
	}
	var env struct {
		ID           string                       `json:"id"`
		Type         string                       `json:"type"`
		Created      int64                        `json:"created"`
		Checkout     *provider.CheckoutCompleted  `json:"checkout"`
		Invoice      *provider.Invoice            `json:"invoice"`
		Subscription *provider.SubscriptionChange `json:"subscription"`
	}
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", hotelledger.ErrWebhookPayload, err)
	}
	if env.ID == "" || env.Type == "" {
		return nil, fmt.Errorf("%w: id and type are required", hotelledger.ErrWebhookPayload)
	}

	evt := &provider.Event{
		ID:           env.ID,
		Provider:     Name,
		Type:         provider.EventType(env.Type),
		Checkout:     env.Checkout,
		Invoice:      env.Invoice,
		Subscription: env.Subscription,
	}
	if env.Created > 0 {
		evt.Created = time.Unix(env.Created, 0).UTC()
	}
	return evt, nil
}

// Sessions returns the session requests seen so far.
func (p *Provider) Sessions() []provider.SessionParams {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]provider.SessionParams, len(p.sessions))
	copy(out, p.sessions)
	return out
}

// Cancelled returns the external subscription ids passed to CancelSubscription.
func (p *Provider) Cancelled() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.cancelled))
	copy(out, p.cancelled)
	return out
}

func sessionKey(params provider.SessionParams) string {
	keys := make([]string, 0, len(params.Metadata))
	for k := range params.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(string(params.Mode))
	for _, k := range keys {
		b.WriteString("|" + k + "=" + params.Metadata[k])
	}
	return b.String()
}

func digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:6])
}
