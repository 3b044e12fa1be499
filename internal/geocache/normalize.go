package geocache

import (
	"crypto/md5"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
)

// coordinateKeys are parameter names whose float values are rounded to 3
// decimals (~111 m) so nearby coordinates share a cache key.
var coordinateKeys = map[string]bool{
	"lat":             true,
	"lon":             true,
	"latitude":        true,
	"longitude":       true,
	"origin_lat":      true,
	"origin_lon":      true,
	"destination_lat": true,
	"destination_lon": true,
}

// brazilianAbbreviations maps common Brazilian address words to their
// abbreviated forms so "Avenida Paulista" and "Av. Paulista" normalize
// to the same tokens.
var brazilianAbbreviations = map[string]string{
	"avenida":  "av",
	"rua":      "r",
	"rodovia":  "rod",
	"estrada":  "est",
	"travessa": "tv",
	"praca":    "pc",
	"praça":    "pc",
	"são":      "sao",
	"santo":    "sto",
	"santa":    "sta",
}

// NormalizeParams returns a copy of params with strings lowercased and
// whitespace collapsed, coordinate values rounded to 3 decimals, and lists
// sorted. The result is what gets hashed into the cache key.
func NormalizeParams(params map[string]interface{}) map[string]interface{} {
	normalized := make(map[string]interface{}, len(params))
	for key, value := range params {
		normalized[key] = normalizeValue(key, value)
	}
	return normalized
}

func normalizeValue(key string, value interface{}) interface{} {
	switch v := value.(type) {
	case string:
		return normalizeString(v)
	case float64:
		if coordinateKeys[key] {
			return math.Round(v*1000) / 1000
		}
		return v
	case float32:
		return normalizeValue(key, float64(v))
	case []string:
		sorted := make([]string, len(v))
		for i, s := range v {
			sorted[i] = normalizeString(s)
		}
		sort.Strings(sorted)
		return sorted
	case []interface{}:
		sorted := make([]string, 0, len(v))
		for _, item := range v {
			sorted = append(sorted, fmt.Sprintf("%v", normalizeValue(key, item)))
		}
		sort.Strings(sorted)
		return sorted
	default:
		return v
	}
}

func normalizeString(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Key builds the cache key "{provider}:{operation}:{md5(normalized params)}"
func Key(provider, operation string, params map[string]interface{}) string {
	normalized := NormalizeParams(params)
	// json.Marshal emits map keys in sorted order, giving a canonical form.
	canonical, err := json.Marshal(normalized)
	if err != nil {
		canonical = []byte(fmt.Sprintf("%v", normalized))
	}
	return fmt.Sprintf("%s:%s:%x", provider, operation, md5.Sum(canonical))
}

// NormalizeAddress normalizes a free-text address for semantic comparison:
// lowercase, collapsed whitespace, punctuation stripped, Brazilian street
// abbreviations applied.
func NormalizeAddress(address string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ',', ';', '-', '.':
			return ' '
		}
		return r
	}, strings.ToLower(address))

	words := strings.Fields(cleaned)
	for i, word := range words {
		if abbrev, ok := brazilianAbbreviations[word]; ok {
			words[i] = abbrev
		}
	}
	return strings.Join(words, " ")
}

// JaccardSimilarity computes word-set Jaccard similarity of two normalized
// addresses. Returns 0 for empty inputs.
func JaccardSimilarity(a, b string) float64 {
	wordsA := strings.Fields(a)
	wordsB := strings.Fields(b)
	if len(wordsA) == 0 || len(wordsB) == 0 {
		return 0
	}

	setA := make(map[string]bool, len(wordsA))
	for _, w := range wordsA {
		setA[w] = true
	}
	setB := make(map[string]bool, len(wordsB))
	for _, w := range wordsB {
		setB[w] = true
	}

	intersection := 0
	for w := range setA {
		if setB[w] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}
