// Package catalog maps internal plan and credit pack identifiers to external
// price identifiers and credit quantities. It is a pure lookup over static
// configuration.
package catalog

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/xraph/hotelledger"
	"github.com/xraph/hotelledger/types"
)

// Kind selects what ResolvePrice looks up.
type Kind string

const (
	KindPlan Kind = "plan"
	KindPack Kind = "pack"
)

// Action classifies a plan change.
type Action string

const (
	ActionNew       Action = "new"
	ActionUpgrade   Action = "upgrade"
	ActionDowngrade Action = "downgrade"
	ActionRenew     Action = "renew"
)

// Plan is an immutable subscription plan.
type Plan struct {
	ID                 string      `json:"id"`
	Name               string      `json:"name"`
	Rank               int         `json:"rank"`
	MonthlyCreditGrant int64       `json:"monthly_credit_grant"`
	ExternalPriceID    string      `json:"-"`
	Price              types.Money `json:"price"`
	// Products unlocked by the plan; empty means every product.
	Products []string `json:"products,omitempty"`
}

// Includes reports whether the plan unlocks productID.
func (p Plan) Includes(productID string) bool {
	return len(p.Products) == 0 || slices.Contains(p.Products, productID)
}

// CreditPack is an immutable one-time credit purchase.
type CreditPack struct {
	ID              string      `json:"id"`
	Name            string      `json:"name"`
	BaseCredits     int64       `json:"base_credits"`
	BonusCredits    int64       `json:"bonus_credits"`
	Price           types.Money `json:"price"`
	ExternalPriceID string      `json:"-"`
}

// TotalCredits is what a purchase of the pack grants.
func (p CreditPack) TotalCredits() int64 { return p.BaseCredits + p.BonusCredits }

// Catalog is safe for concurrent use; it is never mutated after New.
type Catalog struct {
	plans       map[string]Plan
	packs       map[string]CreditPack
	ordered     []Plan
	packOrder   []CreditPack
	pricePrefix string
}

// New validates cfg and builds a catalog.
func New(cfg Config) (*Catalog, error) {
	currency := cfg.Currency
	if currency == "" {
		currency = "usd"
	}
	c := &Catalog{
		plans:       make(map[string]Plan, len(cfg.Plans)),
		packs:       make(map[string]CreditPack, len(cfg.Packs)),
		pricePrefix: cfg.PricePrefix,
	}
	if c.pricePrefix == "" {
		c.pricePrefix = DefaultPricePrefix
	}

	var errs hotelledger.MultiError
	for _, pc := range cfg.Plans {
		if pc.ID == "" {
			errs.Add(fmt.Errorf("catalog: plan without id"))
			continue
		}
		if _, dup := c.plans[pc.ID]; dup {
			errs.Add(fmt.Errorf("catalog: duplicate plan %q", pc.ID))
			continue
		}
		if pc.Rank <= 0 {
			errs.Add(fmt.Errorf("catalog: plan %q: rank must be positive", pc.ID))
		}
		if pc.MonthlyCreditGrant < 0 {
			errs.Add(fmt.Errorf("catalog: plan %q: negative credit grant", pc.ID))
		}
		price, err := parsePrice(pc.PriceMajorUnits, currency)
		if err != nil {
			errs.Add(fmt.Errorf("catalog: plan %q: %w", pc.ID, err))
		}
		p := Plan{
			ID:                 pc.ID,
			Name:               pc.Name,
			Rank:               pc.Rank,
			MonthlyCreditGrant: pc.MonthlyCreditGrant,
			ExternalPriceID:    pc.ExternalPriceID,
			Price:              price,
			Products:           slices.Clone(pc.Products),
		}
		c.plans[p.ID] = p
		c.ordered = append(c.ordered, p)
	}

	for _, pc := range cfg.Packs {
		if pc.ID == "" {
			errs.Add(fmt.Errorf("catalog: pack without id"))
			continue
		}
		if _, dup := c.packs[pc.ID]; dup {
			errs.Add(fmt.Errorf("catalog: duplicate pack %q", pc.ID))
			continue
		}
		if pc.BaseCredits <= 0 || pc.BonusCredits < 0 {
			errs.Add(fmt.Errorf("catalog: pack %q: credits must be positive", pc.ID))
		}
		price, err := parsePrice(pc.PriceMajorUnits, currency)
		if err != nil {
			errs.Add(fmt.Errorf("catalog: pack %q: %w", pc.ID, err))
		}
		p := CreditPack{
			ID:              pc.ID,
			Name:            pc.Name,
			BaseCredits:     pc.BaseCredits,
			BonusCredits:    pc.BonusCredits,
			Price:           price,
			ExternalPriceID: pc.ExternalPriceID,
		}
		c.packs[p.ID] = p
		c.packOrder = append(c.packOrder, p)
	}

	if err := errs.ErrOrNil(); err != nil {
		return nil, err
	}

	sort.SliceStable(c.ordered, func(i, j int) bool { return c.ordered[i].Rank < c.ordered[j].Rank })
	return c, nil
}

// Default returns the embedded catalog. It panics if the embedded file is
// invalid, which is a build defect.
func Default() *Catalog {
	cfg, err := DefaultConfig()
	if err != nil {
		panic(err)
	}
	c, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return c
}

func parsePrice(major, currency string) (types.Money, error) {
	if major == "" {
		return types.Zero(currency), nil
	}
	return types.ParseMajor(major, currency)
}

// Plan returns a plan by id.
func (c *Catalog) Plan(planID string) (Plan, error) {
	p, ok := c.plans[planID]
	if !ok {
		return Plan{}, fmt.Errorf("%w: %q", hotelledger.ErrPlanNotFound, planID)
	}
	return p, nil
}

// Pack returns a credit pack by id.
func (c *Catalog) Pack(packID string) (CreditPack, error) {
	p, ok := c.packs[packID]
	if !ok {
		return CreditPack{}, fmt.Errorf("%w: %q", hotelledger.ErrPackNotFound, packID)
	}
	return p, nil
}

// Plans returns every plan ordered by rank.
func (c *Catalog) Plans() []Plan { return slices.Clone(c.ordered) }

// Packs returns every credit pack in configuration order.
func (c *Catalog) Packs() []CreditPack { return slices.Clone(c.packOrder) }

// PricePrefix is the prefix every external price id must carry.
func (c *Catalog) PricePrefix() string { return c.pricePrefix }

// ResolvePrice returns the external price id of a plan or pack. It fails
// with ErrPriceNotConfigured when none is set and ErrMalformedPriceID when
// the id does not carry the provider's prefix.
func (c *Catalog) ResolvePrice(kind Kind, itemID string) (string, error) {
	var priceID string
	switch kind {
	case KindPlan:
		p, err := c.Plan(itemID)
		if err != nil {
			return "", err
		}
		priceID = p.ExternalPriceID
	case KindPack:
		p, err := c.Pack(itemID)
		if err != nil {
			return "", err
		}
		priceID = p.ExternalPriceID
	default:
		return "", hotelledger.ValidationError{Field: "kind", Message: fmt.Sprintf("unknown catalog kind %q", kind)}
	}

	if strings.TrimSpace(priceID) == "" {
		return "", fmt.Errorf("%w: %s %q", hotelledger.ErrPriceNotConfigured, kind, itemID)
	}
	if !strings.HasPrefix(priceID, c.pricePrefix) {
		return "", fmt.Errorf("%w: %s %q has %q, want prefix %q",
			hotelledger.ErrMalformedPriceID, kind, itemID, priceID, c.pricePrefix)
	}
	return priceID, nil
}

// Classify decides how moving from current to target is labelled. A nil
// current means the organization has no active subscription.
func Classify(current *Plan, target Plan) Action {
	switch {
	case current == nil:
		return ActionNew
	case target.Rank > current.Rank:
		return ActionUpgrade
	case target.Rank < current.Rank:
		return ActionDowngrade
	default:
		return ActionRenew
	}
}

// Classify labels a change between two plan ids known to the catalog. An
// empty currentPlanID means no active subscription.
func (c *Catalog) Classify(currentPlanID, targetPlanID string) (Action, error) {
	target, err := c.Plan(targetPlanID)
	if err != nil {
		return "", err
	}
	if currentPlanID == "" {
		return ActionNew, nil
	}
	current, err := c.Plan(currentPlanID)
	if err != nil {
		return "", err
	}
	return Classify(&current, target), nil
}

// ProductsFor implements hotelledger.PlanPolicy.
func (c *Catalog) ProductsFor(planID string) ([]string, bool) {
	p, ok := c.plans[planID]
	if !ok {
		return nil, false
	}
	return p.Products, true
}

var _ hotelledger.PlanPolicy = (*Catalog)(nil)
