package catalog

import (
	"errors"
	"testing"

	"github.com/xraph/hotelledger"
)

func TestDefaultCatalog(t *testing.T) {
	c := Default()

	plans := c.Plans()
	if len(plans) != 3 {
		t.Fatalf("got %d plans, want 3", len(plans))
	}
	for i := 1; i < len(plans); i++ {
		if plans[i-1].Rank > plans[i].Rank {
			t.Fatalf("plans not sorted by rank: %v", plans)
		}
	}

	large, err := c.Pack("large")
	if err != nil {
		t.Fatal(err)
	}
	if large.TotalCredits() != 11000 {
		t.Fatalf("large pack total = %d, want 11000", large.TotalCredits())
	}
	if large.Price.Amount != 8500 || large.Price.Currency != "usd" {
		t.Fatalf("large pack price = %v", large.Price)
	}
}

func TestResolvePrice(t *testing.T) {
	c, err := New(Config{
		Plans: []PlanConfig{
			{ID: "starter", Rank: 1, ExternalPriceID: "price_starter"},
			{ID: "unpriced", Rank: 2},
			{ID: "legacy", Rank: 3, ExternalPriceID: "plan_legacy"},
		},
		Packs: []PackConfig{
			{ID: "small", BaseCredits: 100, ExternalPriceID: "price_small"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		kind    Kind
		id      string
		want    string
		wantErr error
	}{
		{"plan", KindPlan, "starter", "price_starter", nil},
		{"pack", KindPack, "small", "price_small", nil},
		{"unknown plan", KindPlan, "gold", "", hotelledger.ErrPlanNotFound},
		{"unknown pack", KindPack, "huge", "", hotelledger.ErrPackNotFound},
		{"no price", KindPlan, "unpriced", "", hotelledger.ErrPriceNotConfigured},
		{"bad prefix", KindPlan, "legacy", "", hotelledger.ErrMalformedPriceID},
		{"bad kind", Kind("coupon"), "x", "", hotelledger.ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.ResolvePrice(tt.kind, tt.id)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Fatalf("price = %q, want %q", got, tt.want)
			}
		})
	}

	// Missing price is a not-found class error; a malformed one is a
	// provider request error.
	_, err = c.ResolvePrice(KindPlan, "unpriced")
	if hotelledger.KindOf(err) != hotelledger.KindNotFound {
		t.Fatalf("KindOf(no price) = %v", hotelledger.KindOf(err))
	}
	_, err = c.ResolvePrice(KindPlan, "legacy")
	if hotelledger.KindOf(err) != hotelledger.KindProviderRequest {
		t.Fatalf("KindOf(bad prefix) = %v", hotelledger.KindOf(err))
	}
}

func TestClassify(t *testing.T) {
	starter := Plan{ID: "starter", Rank: 1}
	pro := Plan{ID: "professional", Rank: 2}
	other := Plan{ID: "starter-eu", Rank: 1}

	tests := []struct {
		name    string
		current *Plan
		target  Plan
		want    Action
	}{
		{"no current", nil, pro, ActionNew},
		{"higher rank", &starter, pro, ActionUpgrade},
		{"lower rank", &pro, starter, ActionDowngrade},
		{"same plan", &starter, starter, ActionRenew},
		{"equal rank", &starter, other, ActionRenew},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.current, tt.target); got != tt.want {
				t.Fatalf("Classify = %s, want %s", got, tt.want)
			}
		})
	}

	c := Default()
	if a, err := c.Classify("starter", "professional"); err != nil || a != ActionUpgrade {
		t.Fatalf("Classify(starter, professional) = %s, %v", a, err)
	}
	if a, err := c.Classify("", "starter"); err != nil || a != ActionNew {
		t.Fatalf("Classify(\"\", starter) = %s, %v", a, err)
	}
	if _, err := c.Classify("starter", "gold"); !errors.Is(err, hotelledger.ErrPlanNotFound) {
		t.Fatalf("unknown target err = %v", err)
	}
}

func TestProductsFor(t *testing.T) {
	c := Default()

	products, ok := c.ProductsFor("starter")
	if !ok || len(products) == 0 {
		t.Fatalf("starter products = %v, %v", products, ok)
	}
	enterprise, _ := c.Plan("enterprise")
	if !enterprise.Includes("anything") {
		t.Fatal("enterprise must include every product")
	}
	if _, ok := c.ProductsFor("gold"); ok {
		t.Fatal("unknown plan reported as known")
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	_, err := New(Config{
		Plans: []PlanConfig{
			{ID: "a", Rank: 1},
			{ID: "a", Rank: 2},
			{ID: "b", Rank: 0},
			{ID: "c", Rank: 3, PriceMajorUnits: "abc"},
		},
		Packs: []PackConfig{{ID: "p", BaseCredits: 0}},
	})
	if err == nil {
		t.Fatal("expected validation error")
	}
	var multi hotelledger.MultiError
	if !errors.As(err, &multi) || len(multi.Errors) != 4 {
		t.Fatalf("err = %#v, want 4 collected errors", err)
	}
}

func TestOverridePrices(t *testing.T) {
	cfg, err := DefaultConfig()
	if err != nil {
		t.Fatal(err)
	}

	plans, err := ParsePriceMapping("starter=price_live_1, professional = price_live_2")
	if err != nil {
		t.Fatal(err)
	}
	packs, _ := ParsePriceMapping("large=price_live_pack")
	if err := cfg.OverridePrices(plans, packs); err != nil {
		t.Fatal(err)
	}

	c, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if got, _ := c.ResolvePrice(KindPlan, "professional"); got != "price_live_2" {
		t.Fatalf("professional price = %q", got)
	}
	if got, _ := c.ResolvePrice(KindPack, "large"); got != "price_live_pack" {
		t.Fatalf("large price = %q", got)
	}

	if err := cfg.OverridePrices(map[string]string{"gold": "price_x"}, nil); err == nil {
		t.Fatal("override for unknown plan must fail")
	}
	if _, err := ParsePriceMapping("starter"); err == nil {
		t.Fatal("malformed mapping must fail")
	}
	if m, err := ParsePriceMapping(""); err != nil || len(m) != 0 {
		t.Fatalf("empty mapping = %v, %v", m, err)
	}
}

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
price_prefix: price_
currency: eur
plans:
  - id: basic
    rank: 1
    monthly_credit_grant: 100
    price_major_units: "9.50"
    external_price_id: price_basic
`))
	if err != nil {
		t.Fatal(err)
	}
	c, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	p, _ := c.Plan("basic")
	if p.Price.Amount != 950 || p.Price.Currency != "eur" || p.MonthlyCreditGrant != 100 {
		t.Fatalf("plan = %+v", p)
	}
}
