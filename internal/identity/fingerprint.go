// Package identity derives deterministic record identities.
//
// A fingerprint is the first 16 hex characters (64 bits) of a SHA-256 digest.
// For n stored records the probability of any collision is roughly
// 1 - exp(-n^2 / 2^65): about 2.7e-8 at one million records and 2.7e-4 at
// one hundred million, which is well above the corpus sizes this service targets.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"strings"

	"golang.org/x/text/cases"
)

// Length is the number of hex characters kept from the digest
const Length = 16

const delimiter = "|"

var escaper = strings.NewReplacer(`\`, `\\`, delimiter, `\`+delimiter)

// Normalize trims, collapses internal whitespace and case-folds a part.
// A Caser is stateful, so one is built per call.
func Normalize(part string) string {
	return cases.Fold().String(strings.Join(strings.Fields(part), " "))
}

// Fingerprint hashes an ordered list of identifying parts.
// Delimiters inside parts are escaped so ("a|b", "c") and ("a", "b|c") differ.
func Fingerprint(parts ...string) string {
	normalized := make([]string, len(parts))
	for i, p := range parts {
		normalized[i] = escaper.Replace(Normalize(p))
	}

	sum := sha256.Sum256([]byte(strings.Join(normalized, delimiter)))
	return hex.EncodeToString(sum[:])[:Length]
}

// RecordID is the record identity over (source, sourceID, company, title)
func RecordID(source, sourceID, company, title string) string {
	return Fingerprint(source, sourceID, company, title)
}

// CollisionProbability is the birthday bound for n fingerprints of Length hex chars
func CollisionProbability(n int) float64 {
	if n < 2 {
		return 0
	}
	space := math.Pow(2, float64(Length*4))
	x := float64(n)
	return -math.Expm1(-(x * x) / (2 * space))
}
