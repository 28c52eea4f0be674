package guard

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Kind tags the closed set of guard policies.
type Kind string

const (
	KindSingleTxLimit      Kind = "single_tx_limit"
	KindDailyBudget        Kind = "daily_budget"
	KindHourlyBudget       Kind = "hourly_budget"
	KindRateLimit          Kind = "rate_limit"
	KindRecipientWhitelist Kind = "recipient_whitelist"
)

// Policy is the serializable configuration of one guard. Only the fields
// relevant to Kind are set.
type Policy struct {
	Kind         Kind     `yaml:"kind" json:"kind"`
	Name         string   `yaml:"name,omitempty" json:"name"`
	Limit        string   `yaml:"limit,omitempty" json:"limit,omitempty"`
	MaxPerMinute int      `yaml:"max_per_minute,omitempty" json:"max_per_minute,omitempty"`
	Recipients   []string `yaml:"recipients,omitempty" json:"recipients,omitempty"`
}

type policyFile struct {
	Guards []Policy `yaml:"guards"`
}

// LoadPolicies reads a YAML policy file of the form
//
//	guards:
//	  - kind: single_tx_limit
//	    limit: "50.00"
func LoadPolicies(path string) ([]Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read guard policy file: %w", err)
	}
	return ParsePolicies(data)
}

// ParsePolicies decodes YAML policy definitions.
func ParsePolicies(data []byte) ([]Policy, error) {
	var file policyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode guard policies: %w", err)
	}
	if len(file.Guards) == 0 {
		return nil, ErrNoGuards
	}
	return file.Guards, nil
}

// Limits are the environment-level defaults for the standard guard set. Zero
// values leave the corresponding guard out.
type Limits struct {
	TxLimit         string
	DailyBudget     string
	HourlyBudget    string
	RateLimitPerMin int
	Whitelist       []string
}

// DefaultPolicies turns Limits into policies in evaluation order.
func DefaultPolicies(l Limits) []Policy {
	var out []Policy
	if l.TxLimit != "" {
		out = append(out, Policy{Kind: KindSingleTxLimit, Limit: l.TxLimit})
	}
	if l.DailyBudget != "" {
		out = append(out, Policy{Kind: KindDailyBudget, Limit: l.DailyBudget})
	}
	if l.HourlyBudget != "" {
		out = append(out, Policy{Kind: KindHourlyBudget, Limit: l.HourlyBudget})
	}
	if l.RateLimitPerMin > 0 {
		out = append(out, Policy{Kind: KindRateLimit, MaxPerMinute: l.RateLimitPerMin})
	}
	var recipients []string
	for _, r := range l.Whitelist {
		if NormalizeRecipient(r) != "" {
			recipients = append(recipients, r)
		}
	}
	if len(recipients) > 0 {
		out = append(out, Policy{Kind: KindRecipientWhitelist, Recipients: recipients})
	}
	return out
}

// Deps are the state sources guards delegate history to.
type Deps struct {
	Outflow  OutflowSource
	Attempts AttemptCounter
}

// Build instantiates guards from policies, preserving order.
func Build(policies []Policy, deps Deps) ([]Guard, error) {
	guards := make([]Guard, 0, len(policies))
	for i, p := range policies {
		g, err := build(p, deps)
		if err != nil {
			return nil, fmt.Errorf("guard %d (%s): %w", i, p.Kind, err)
		}
		guards = append(guards, g)
	}
	return guards, nil
}

func build(p Policy, deps Deps) (Guard, error) {
	switch p.Kind {
	case KindSingleTxLimit, KindDailyBudget, KindHourlyBudget:
		limit, err := parseLimit(p.Limit)
		if err != nil {
			return nil, err
		}
		switch p.Kind {
		case KindSingleTxLimit:
			return NewSingleTransactionLimit(p.Name, limit), nil
		case KindDailyBudget:
			if deps.Outflow == nil {
				return nil, fmt.Errorf("outflow source is required")
			}
			return NewDailyBudget(p.Name, limit, deps.Outflow), nil
		default:
			if deps.Outflow == nil {
				return nil, fmt.Errorf("outflow source is required")
			}
			return NewHourlyBudget(p.Name, limit, deps.Outflow), nil
		}
	case KindRateLimit:
		if p.MaxPerMinute <= 0 {
			return nil, fmt.Errorf("max_per_minute must be positive")
		}
		if deps.Attempts == nil {
			return nil, fmt.Errorf("attempt counter is required")
		}
		return NewRateLimit(p.Name, p.MaxPerMinute, deps.Attempts), nil
	case KindRecipientWhitelist:
		return NewRecipientWhitelist(p.Name, p.Recipients), nil
	default:
		return nil, fmt.Errorf("unknown guard kind %q", p.Kind)
	}
}

func parseLimit(raw string) (decimal.Decimal, error) {
	limit, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid limit %q: %w", raw, err)
	}
	if !limit.IsPositive() {
		return decimal.Zero, fmt.Errorf("limit must be positive, got %s", limit)
	}
	return limit, nil
}
