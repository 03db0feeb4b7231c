// Package ticker handles B3 ticker normalization and validation.
package ticker

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// tickerRegex matches: {root}{class}[F]
// Examples: PETR4, VALE3, HGLG11, B3SA3, PETR4F (fractional market)
var tickerRegex = regexp.MustCompile(
	`^([A-Z][A-Z0-9]{3})([0-9]{1,2})(F?)$`,
)

var (
	ErrInvalidTicker = errors.New("ticker: invalid ticker format")
	ErrEmptyTicker   = errors.New("ticker: ticker is required")
)

// Ticker is a parsed B3 ticker.
type Ticker struct {
	Symbol     string `json:"symbol"`
	Root       string `json:"root"`
	Class      int    `json:"class"`
	Fractional bool   `json:"fractional"`
}

// Normalize trims and uppercases a ticker. It does not validate.
func Normalize(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// Parse normalizes and validates a ticker string.
// Format: {4-char root}{1-2 digit class}[F]
func Parse(s string) (*Ticker, error) {
	symbol := Normalize(s)
	if symbol == "" {
		return nil, ErrEmptyTicker
	}

	matches := tickerRegex.FindStringSubmatch(symbol)
	if matches == nil {
		return nil, fmt.Errorf("%w: %s (expected e.g. PETR4, HGLG11)", ErrInvalidTicker, s)
	}

	class, err := strconv.Atoi(matches[2])
	if err != nil {
		return nil, fmt.Errorf("%w: invalid class %s", ErrInvalidTicker, matches[2])
	}

	return &Ticker{
		Symbol:     symbol,
		Root:       matches[1],
		Class:      class,
		Fractional: matches[3] == "F",
	}, nil
}

// Validate reports whether s is a well-formed ticker.
func Validate(s string) error {
	_, err := Parse(s)
	return err
}

// NormalizeSet normalizes every ticker, drops empties and duplicates and
// returns the result sorted ascending.
func NormalizeSet(tickers []string) []string {
	seen := make(map[string]struct{}, len(tickers))
	out := make([]string, 0, len(tickers))
	for _, t := range tickers {
		n := Normalize(t)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Set returns the normalized tickers as a membership set.
func Set(tickers []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tickers))
	for _, t := range NormalizeSet(tickers) {
		set[t] = struct{}{}
	}
	return set
}
