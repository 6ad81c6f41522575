package score

import (
	"strings"

	"github.com/xrash/smetrics"
)

// Legal-entity noise stripped from party names before comparison. "ACME INC"
// and "Acme, Incorporated" should compare as the same party.
var legalSuffixes = map[string]bool{
	"inc":          true,
	"incorporated": true,
	"llc":          true,
	"llp":          true,
	"lp":           true,
	"ltd":          true,
	"limited":      true,
	"corp":         true,
	"corporation":  true,
	"co":           true,
	"company":      true,
	"plc":          true,
	"gmbh":         true,
	"ag":           true,
	"sa":           true,
	"pllc":         true,
	"pc":           true,
}

var legalPrefixes = map[string]bool{
	"the": true,
}

// Name scores the similarity of two party names in [0,1] using Jaro-Winkler
// over normalized forms. An empty or missing name on either side scores 0.0
// rather than erroring; partial data is an expected real-world condition.
func Name(a, b string) float64 {
	na := NormalizeName(a)
	nb := NormalizeName(b)
	if na == "" || nb == "" {
		return 0.0
	}
	if na == nb {
		return 1.0
	}
	return smetrics.JaroWinkler(na, nb, 0.7, 4)
}

// Text scores free-form description similarity. Unlike Name it keeps legal
// tokens (a description mentioning "co-pay" is not a legal suffix) and only
// normalizes case and punctuation.
func Text(a, b string) float64 {
	na := normalizeText(a)
	nb := normalizeText(b)
	if na == "" || nb == "" {
		return 0.0
	}
	if na == nb {
		return 1.0
	}
	return smetrics.JaroWinkler(na, nb, 0.7, 4)
}

// NormalizeName lowercases, strips punctuation, and drops common legal-entity
// prefixes and suffixes.
func NormalizeName(s string) string {
	tokens := strings.Fields(normalizeText(s))

	for len(tokens) > 0 && legalPrefixes[tokens[0]] {
		tokens = tokens[1:]
	}
	for len(tokens) > 0 && legalSuffixes[tokens[len(tokens)-1]] {
		tokens = tokens[:len(tokens)-1]
	}

	return strings.Join(tokens, " ")
}

// normalizeText lowercases and replaces punctuation with spaces, collapsing
// runs of whitespace.
func normalizeText(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))

	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			sb.WriteRune(r)
		default:
			sb.WriteRune(' ')
		}
	}

	return strings.Join(strings.Fields(sb.String()), " ")
}
