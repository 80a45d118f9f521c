package catalog

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var embeddedFS embed.FS

// DefaultPricePrefix is the prefix Stripe uses for price identifiers.
const DefaultPricePrefix = "price_"

// Config is the file representation of a catalog.
type Config struct {
	PricePrefix string       `yaml:"price_prefix"`
	Currency    string       `yaml:"currency"`
	Plans       []PlanConfig `yaml:"plans"`
	Packs       []PackConfig `yaml:"packs"`
}

type PlanConfig struct {
	ID                 string   `yaml:"id"`
	Name               string   `yaml:"name"`
	Rank               int      `yaml:"rank"`
	MonthlyCreditGrant int64    `yaml:"monthly_credit_grant"`
	PriceMajorUnits    string   `yaml:"price_major_units"`
	ExternalPriceID    string   `yaml:"external_price_id"`
	Products           []string `yaml:"products,omitempty"`
}

type PackConfig struct {
	ID              string `yaml:"id"`
	Name            string `yaml:"name"`
	BaseCredits     int64  `yaml:"base_credits"`
	BonusCredits    int64  `yaml:"bonus_credits"`
	PriceMajorUnits string `yaml:"price_major_units"`
	ExternalPriceID string `yaml:"external_price_id"`
}

// DefaultConfig returns the embedded catalog configuration.
func DefaultConfig() (Config, error) {
	b, err := fs.ReadFile(embeddedFS, "catalog.yaml")
	if err != nil {
		return Config{}, err
	}
	return ParseConfig(b)
}

// ParseConfig decodes a YAML catalog.
func ParseConfig(data []byte) (Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("catalog: parse: %w", err)
	}
	return c, nil
}

// LoadConfig reads a YAML catalog from path.
func LoadConfig(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	return ParseConfig(b)
}

// OverridePrices replaces external price ids. Keys that name no plan or
// pack are reported as an error so a typo in the environment is not
// silently ignored.
func (c *Config) OverridePrices(plans, packs map[string]string) error {
	for planID, priceID := range plans {
		found := false
		for i := range c.Plans {
			if c.Plans[i].ID == planID {
				c.Plans[i].ExternalPriceID = priceID
				found = true
			}
		}
		if !found {
			return fmt.Errorf("catalog: price override for unknown plan %q", planID)
		}
	}
	for packID, priceID := range packs {
		found := false
		for i := range c.Packs {
			if c.Packs[i].ID == packID {
				c.Packs[i].ExternalPriceID = priceID
				found = true
			}
		}
		if !found {
			return fmt.Errorf("catalog: price override for unknown pack %q", packID)
		}
	}
	return nil
}

// ParsePriceMapping parses "id=price_x,id2=price_y" into a map.
func ParsePriceMapping(s string) (map[string]string, error) {
	out := map[string]string{}
	for _, pair := range splitCSV(s) {
		k, v, ok := strings.Cut(pair, "=")
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if !ok || k == "" || v == "" {
			return nil, fmt.Errorf("catalog: malformed price mapping %q", pair)
		}
		out[k] = v
	}
	return out, nil
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
