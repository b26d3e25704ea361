package billing

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultQuota applies to prices outside the plan table
const DefaultQuota = 50

const (
	PlanBasic = "basic"
	PlanPro   = "pro"
)

// Plan maps a Stripe price to a quota
type Plan struct {
	Name    string `yaml:"name" json:"name"`
	PriceID string `yaml:"price_id" json:"priceId"`
	Quota   int    `yaml:"quota" json:"quota"`
}

// Plans is the plan table
type Plans struct {
	plans        []Plan
	defaultQuota int
}

type plansFile struct {
	DefaultQuota int    `yaml:"default_quota"`
	Plans        []Plan `yaml:"plans"`
}

// DefaultPlans returns the basic and pro plans for the given prices
func DefaultPlans(basicPrice, proPrice string) *Plans {
	return &Plans{
		plans: []Plan{
			{Name: PlanBasic, PriceID: basicPrice, Quota: 50},
			{Name: PlanPro, PriceID: proPrice, Quota: 200},
		},
		defaultQuota: DefaultQuota,
	}
}

// LoadPlans builds the plan table from the configured prices and, when path
// is set, applies the YAML file on top.
func LoadPlans(basicPrice, proPrice, path string) (*Plans, error) {
	plans := DefaultPlans(basicPrice, proPrice)
	if path == "" {
		return plans, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plans file: %w", err)
	}
	if err := plans.apply(data); err != nil {
		return nil, fmt.Errorf("failed to parse plans file %s: %w", path, err)
	}
	return plans, nil
}

func (p *Plans) apply(data []byte) error {
	var file plansFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return err
	}

	if file.DefaultQuota < 0 {
		return fmt.Errorf("default_quota must not be negative")
	}
	if file.DefaultQuota > 0 {
		p.defaultQuota = file.DefaultQuota
	}

	for _, plan := range file.Plans {
		plan.Name = strings.ToLower(strings.TrimSpace(plan.Name))
		if plan.Name == "" {
			return fmt.Errorf("plan name is required")
		}
		if plan.Quota < 0 {
			return fmt.Errorf("plan %s: quota must not be negative", plan.Name)
		}
		p.set(plan)
	}
	return nil
}

func (p *Plans) set(plan Plan) {
	for i := range p.plans {
		if p.plans[i].Name == plan.Name {
			if plan.PriceID == "" {
				plan.PriceID = p.plans[i].PriceID
			}
			p.plans[i] = plan
			return
		}
	}
	p.plans = append(p.plans, plan)
}

// All returns a copy of the table
func (p *Plans) All() []Plan {
	out := make([]Plan, len(p.plans))
	copy(out, p.plans)
	return out
}

// ByName looks a plan up by name
func (p *Plans) ByName(name string) (Plan, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, plan := range p.plans {
		if plan.Name == name {
			return plan, true
		}
	}
	return Plan{}, false
}

// ByPrice looks a plan up by Stripe price id
func (p *Plans) ByPrice(priceID string) (Plan, bool) {
	if priceID == "" {
		return Plan{}, false
	}
	for _, plan := range p.plans {
		if plan.PriceID == priceID {
			return plan, true
		}
	}
	return Plan{}, false
}

// QuotaForPrice returns the monthly quota granted by priceID
func (p *Plans) QuotaForPrice(priceID string) int {
	if plan, ok := p.ByPrice(priceID); ok {
		return plan.Quota
	}
	return p.defaultQuota
}

// NameForPrice returns the plan name for priceID, or "" when unknown
func (p *Plans) NameForPrice(priceID string) string {
	plan, _ := p.ByPrice(priceID)
	return plan.Name
}
