package guard

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestParsePolicies(t *testing.T) {
	data := []byte(`
guards:
  - kind: single_tx_limit
    limit: "50.00"
  - kind: rate_limit
    name: burst
    max_per_minute: 10
  - kind: recipient_whitelist
    recipients: ["merchant-1"]
`)
	policies, err := ParsePolicies(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(policies) != 3 || policies[1].Name != "burst" || policies[1].MaxPerMinute != 10 {
		t.Fatalf("unexpected policies: %+v", policies)
	}

	guards, err := Build(policies, Deps{Attempts: NewMemoryCounter()})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if guards[0].Name() != "single_tx_limit" || guards[1].Name() != "burst" {
		t.Fatalf("unexpected guard order: %s, %s", guards[0].Name(), guards[1].Name())
	}
}

func TestParsePoliciesRejectsEmptyList(t *testing.T) {
	if _, err := ParsePolicies([]byte("guards: []\n")); !errors.Is(err, ErrNoGuards) {
		t.Fatalf("expected ErrNoGuards, got %v", err)
	}
}

func TestLoadPoliciesFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "guards.yaml")
	if err := os.WriteFile(path, []byte("guards:\n  - kind: hourly_budget\n    limit: \"20\"\n"), 0o600); err != nil {
		t.Fatalf("write policy file: %v", err)
	}
	policies, err := LoadPolicies(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(policies) != 1 || policies[0].Kind != KindHourlyBudget {
		t.Fatalf("unexpected policies: %+v", policies)
	}
}

func TestBuildRejectsBadPolicies(t *testing.T) {
	cases := map[string]Policy{
		"bad limit":       {Kind: KindSingleTxLimit, Limit: "lots"},
		"zero limit":      {Kind: KindSingleTxLimit, Limit: "0"},
		"no source":       {Kind: KindDailyBudget, Limit: "10"},
		"no rate":         {Kind: KindRateLimit},
		"unknown kind":    {Kind: "vibes"},
		"rate no counter": {Kind: KindRateLimit, MaxPerMinute: 3},
	}
	for name, p := range cases {
		if _, err := Build([]Policy{p}, Deps{}); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestDefaultPoliciesSkipsUnsetLimits(t *testing.T) {
	policies := DefaultPolicies(Limits{TxLimit: "500", RateLimitPerMin: 5, Whitelist: []string{" ", ""}})
	if len(policies) != 2 {
		t.Fatalf("expected tx limit and rate limit only, got %+v", policies)
	}
	if policies[0].Kind != KindSingleTxLimit || policies[1].Kind != KindRateLimit {
		t.Fatalf("unexpected order: %+v", policies)
	}
	if len(DefaultPolicies(Limits{})) != 0 {
		t.Fatalf("expected no policies without limits")
	}
}
