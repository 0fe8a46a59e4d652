package condition

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/indicator"
	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/model"
)

// IDPrefix marks condition identifiers.
const IDPrefix = "cond_"

// canonicalBody is the hashed projection of a condition. Field order is fixed
// by the struct, so encoding/json output is deterministic.
type canonicalBody struct {
	Symbol    string          `json:"symbol"`
	Timeframe model.Timeframe `json:"timeframe"`
	Kind      model.Kind      `json:"kind"`
	Operator  model.Operator  `json:"operator"`
	Source    model.Operand   `json:"source"`
	Compare   model.Compare   `json:"compare"`
}

// Canonical returns the canonical JSON body of c.
func Canonical(c *model.Condition) []byte {
	b, _ := json.Marshal(canonicalBody{
		Symbol:    c.Symbol,
		Timeframe: c.Timeframe,
		Kind:      c.Kind,
		Operator:  c.Operator,
		Source:    c.Source,
		Compare:   c.Compare,
	})
	return b
}

// Hash returns the deterministic condition ID of a normalized condition.
func Hash(c *model.Condition) string {
	sum := sha256.Sum256(Canonical(c))
	return IDPrefix + hex.EncodeToString(sum[:16])
}

// RequiredIndicators returns the indicator specs a condition reads, deduped.
func RequiredIndicators(c *model.Condition) []indicator.Spec {
	var out []indicator.Spec
	seen := map[string]bool{}
	for _, op := range c.Operands() {
		s, ok := indicator.SpecOf(op)
		if !ok || seen[s.Key()] {
			continue
		}
		seen[s.Key()] = true
		out = append(out, s)
	}
	return out
}
