package guard

import (
	"context"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// RecipientWhitelist restricts recipients to a fixed set. An empty set means
// unrestricted.
type RecipientWhitelist struct {
	name    string
	allowed map[string]struct{}
	ordered []string
}

// NewRecipientWhitelist builds a whitelist guard.
func NewRecipientWhitelist(name string, recipients []string) *RecipientWhitelist {
	if name == "" {
		name = string(KindRecipientWhitelist)
	}
	g := &RecipientWhitelist{name: name, allowed: make(map[string]struct{}, len(recipients))}
	for _, r := range recipients {
		n := NormalizeRecipient(r)
		if n == "" {
			continue
		}
		if _, dup := g.allowed[n]; dup {
			continue
		}
		g.allowed[n] = struct{}{}
		g.ordered = append(g.ordered, n)
	}
	return g
}

func (g *RecipientWhitelist) Name() string { return g.name }

func (g *RecipientWhitelist) Policy() Policy {
	return Policy{Kind: KindRecipientWhitelist, Name: g.name, Recipients: append([]string(nil), g.ordered...)}
}

func (g *RecipientWhitelist) Evaluate(_ context.Context, in Input) error {
	if len(g.allowed) == 0 {
		return nil
	}
	if _, ok := g.allowed[NormalizeRecipient(in.Recipient)]; !ok {
		return reject(g.name, CodeUnauthorizedRecipient, "recipient %s is not whitelisted", in.Recipient)
	}
	return nil
}

// NormalizeRecipient trims the recipient and rewrites EVM addresses to their
// checksummed form so differently-cased spellings compare equal.
func NormalizeRecipient(recipient string) string {
	r := strings.TrimSpace(recipient)
	if strings.HasPrefix(r, "0x") || strings.HasPrefix(r, "0X") {
		if common.IsHexAddress(r) {
			return common.HexToAddress(r).Hex()
		}
	}
	return r
}
