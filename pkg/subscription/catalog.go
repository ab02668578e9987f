package subscription

import (
	"bytes"
	"cmp"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed plans.yaml
var defaultCatalog []byte

type catalogFile struct {
	Plans []catalogPlan `yaml:"plans"`
}

type catalogPlan struct {
	Name       string         `yaml:"name"`
	PriceID    string         `yaml:"price_id"`
	Price      int64          `yaml:"price"`
	Currency   string         `yaml:"currency"`
	Interval   string         `yaml:"interval"`
	UsageLimit int64          `yaml:"usage_limit"`
	Features   map[string]any `yaml:"features"`
	Inactive   bool           `yaml:"inactive"`
}

// LoadCatalog reads a YAML plan catalog from path, or the embedded default
// when path is empty. ${VAR} references are expanded with lookup.
func LoadCatalog(path string, lookup func(string) string) ([]Plan, error) {
	if path == "" {
		return ParseCatalog(bytes.NewReader(defaultCatalog), lookup)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open plan catalog: %w", err)
	}
	defer f.Close()
	return ParseCatalog(f, lookup)
}

// ParseCatalog decodes and validates a YAML plan catalog. Plans whose price
// id expands to an empty string are skipped, so a paid tier can be disabled
// by leaving its provider price unset.
func ParseCatalog(r io.Reader, lookup func(string) string) ([]Plan, error) {
	if lookup == nil {
		lookup = os.Getenv
	}

	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read plan catalog: %w", err)
	}

	var file catalogFile
	if err := yaml.Unmarshal([]byte(os.Expand(string(raw), lookup)), &file); err != nil {
		return nil, errors.Join(ErrInvalidCatalog, err)
	}

	seen := make(map[string]struct{}, len(file.Plans))
	plans := make([]Plan, 0, len(file.Plans))
	hasFree := false
	for i, cp := range file.Plans {
		priceID := strings.TrimSpace(cp.PriceID)
		if priceID == "" {
			continue
		}
		if strings.TrimSpace(cp.Name) == "" {
			return nil, fmt.Errorf("%w: plan #%d has no name", ErrInvalidCatalog, i+1)
		}
		if _, dup := seen[priceID]; dup {
			return nil, fmt.Errorf("%w: duplicate price id %q", ErrInvalidCatalog, priceID)
		}
		seen[priceID] = struct{}{}

		interval := BillingInterval(strings.ToLower(cp.Interval))
		switch interval {
		case IntervalNone, IntervalMonthly, IntervalYearly:
		default:
			return nil, fmt.Errorf("%w: plan %q has unknown interval %q", ErrInvalidCatalog, cp.Name, cp.Interval)
		}
		if cp.UsageLimit < Unlimited {
			return nil, fmt.Errorf("%w: plan %q has negative usage limit", ErrInvalidCatalog, cp.Name)
		}

		p := Plan{
			Name:       cp.Name,
			PriceID:    priceID,
			Price:      cp.Price,
			Currency:   strings.ToLower(cmp.Or(cp.Currency, "usd")),
			Interval:   interval,
			UsageLimit: cp.UsageLimit,
			Features:   cp.Features,
			Active:     !cp.Inactive,
		}
		if p.IsFree() {
			hasFree = true
			p.Price = 0
			p.Interval = IntervalNone
		}
		plans = append(plans, p)
	}

	if !hasFree {
		return nil, fmt.Errorf("%w: %s plan is missing", ErrInvalidCatalog, FreePriceID)
	}
	sortPlans(plans)
	return plans, nil
}

// SeedPlans upserts the catalog into the plan store.
func SeedPlans(ctx context.Context, store PlanStore, plans []Plan) error {
	for i := range plans {
		if err := store.UpsertPlan(ctx, &plans[i]); err != nil {
			return fmt.Errorf("seed plan %q: %w", plans[i].PriceID, err)
		}
	}
	return nil
}
