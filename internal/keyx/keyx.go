// Package keyx derives canonical identifiers for paired records.
//
// A relationship between two accounts is stored remotely under a single
// canonical key regardless of which participant created it, so the pair
// key must be order-independent.
package keyx

// PairSeparator joins the two participant ids in a canonical pair key.
// Account ids may contain single underscores, so two are used.
const PairSeparator = "__"

// PairKey returns the canonical key for a pair of identifiers.
// It is commutative: PairKey(a, b) == PairKey(b, a).
func PairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + PairSeparator + b
}
