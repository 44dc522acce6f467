package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// pairSeparator splits the left and right symbols of a textual pair.
const pairSeparator = "/"

// PricePair identifies a price quote: one unit of Left expressed in Right.
// Both sides are trimmed and lower-cased so that "BTC/USD" and " btc / usd "
// address the same cache entry. The zero value is an invalid pair.
type PricePair struct {
	Left  string
	Right string
}

// NewPair builds a normalized pair from two symbols. A side that is empty
// after trimming, or that contains the separator, is rejected with an error
// wrapping ErrMalformedInput.
func NewPair(left, right string) (PricePair, error) {
	p := PricePair{
		Left:  normalizeSymbol(left),
		Right: normalizeSymbol(right),
	}
	if !p.Valid() {
		return PricePair{}, fmt.Errorf("%w: invalid price pair %q/%q", ErrMalformedInput, left, right)
	}
	return p, nil
}

// ParsePair parses "left/right". Input with no separator, more than one
// separator or an empty side is rejected.
func ParsePair(s string) (PricePair, error) {
	parts := strings.Split(s, pairSeparator)
	if len(parts) != 2 {
		return PricePair{}, fmt.Errorf("%w: invalid price pair %q", ErrMalformedInput, s)
	}
	return NewPair(parts[0], parts[1])
}

func normalizeSymbol(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Valid reports whether both sides of the pair are present and neither
// contains the separator.
func (p PricePair) Valid() bool {
	return p.Left != "" && p.Right != "" &&
		!strings.Contains(p.Left, pairSeparator) && !strings.Contains(p.Right, pairSeparator)
}

// String returns the canonical "left/right" form.
func (p PricePair) String() string {
	return p.Left + pairSeparator + p.Right
}

// PriceTick is a single observed price for a pair.
type PriceTick struct {
	Pair      PricePair
	Timestamp time.Time
	Value     decimal.Decimal
}

// maxTickSeconds bounds tick timestamps to the range where Unix microseconds
// are exact as IEEE doubles (2^53), which is how the cache compares them.
const maxTickSeconds = (1 << 53) / 1_000_000

// Validate rejects ticks with an invalid pair or a timestamp that is zero or
// out of range. Errors wrap ErrMalformedInput.
func (t PriceTick) Validate() error {
	if !t.Pair.Valid() {
		return fmt.Errorf("%w: invalid price pair %q", ErrMalformedInput, t.Pair.String())
	}
	if t.Timestamp.IsZero() {
		return fmt.Errorf("%w: tick %s has no timestamp", ErrMalformedInput, t.Pair)
	}
	if sec := t.Timestamp.Unix(); sec <= -maxTickSeconds || sec >= maxTickSeconds {
		return fmt.Errorf("%w: tick %s timestamp %s out of range", ErrMalformedInput, t.Pair, t.Timestamp)
	}
	return nil
}
