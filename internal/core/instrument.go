package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	apperrors "qtrader/pkg/errors"
)

// Instrument identifies a tradable instrument. Equality over all fields is
// the composite key used wherever positions, quotes, and greeks are
// addressed. For equities only Symbol and Kind are set.
type Instrument struct {
	Symbol string
	Kind   InstrumentKind
	Strike decimal.Decimal
	Expiry string // canonical "2006-01-02", empty for equities
	Right  OptionRight
}

// InstrumentKey is the comparable form of an Instrument, usable as a map
// key. decimal.Decimal is not comparable, so the strike is rendered with a
// fixed scale to avoid 145 vs 145.0 mismatches.
type InstrumentKey struct {
	Symbol string
	Kind   InstrumentKind
	Strike string
	Expiry string
	Right  OptionRight
}

// Key returns the comparable map key for this instrument
func (i Instrument) Key() InstrumentKey {
	k := InstrumentKey{
		Symbol: i.Symbol,
		Kind:   i.Kind,
		Expiry: i.Expiry,
		Right:  i.Right,
	}
	if i.Kind.IsOption() {
		k.Strike = i.Strike.StringFixed(4)
	}
	return k
}

// String renders a human-readable identity for logs
func (i Instrument) String() string {
	switch i.Kind {
	case KindCall, KindPut:
		return fmt.Sprintf("%s %s %s %s", i.Symbol, i.Strike.String(), i.Expiry, i.Right)
	case KindFuture:
		return fmt.Sprintf("%s FUT %s", i.Symbol, i.Expiry)
	default:
		return i.Symbol
	}
}

// Contract is the raw instrument description carried on a feed position
// delta, before identity parsing.
type Contract struct {
	Symbol     string
	SecType    string // "STK", "OPT", "FUT"
	Strike     decimal.Decimal
	Expiry     string
	Right      string
	Multiplier int64
}

var expiryLayouts = []string{"20060102", "2006-01-02", "01/02/2006"}

// NormalizeExpiry converts any accepted feed date representation to the
// canonical "2006-01-02" form. Raw strings must never be compared across
// formats.
func NormalizeExpiry(raw string) (string, error) {
	for _, layout := range expiryLayouts {
		if len(raw) != len(layout) {
			continue
		}
		if t, err := time.Parse(layout, raw); err == nil {
			return t.Format("2006-01-02"), nil
		}
	}
	return "", fmt.Errorf("%w: %q", apperrors.ErrInvalidExpiry, raw)
}

// ParseInstrument builds the tagged-union identity from raw contract
// fields. Options require strike, expiry, and right; futures require
// expiry; equities require neither. Malformed contracts are rejected here
// so downstream code never probes for maybe-present fields.
func ParseInstrument(c Contract) (Instrument, error) {
	switch c.SecType {
	case "STK", "":
		return Instrument{Symbol: c.Symbol, Kind: KindEquity}, nil

	case "OPT":
		if c.Strike.IsZero() {
			return Instrument{}, fmt.Errorf("%w: option %s missing strike", apperrors.ErrMalformedContract, c.Symbol)
		}
		expiry, err := NormalizeExpiry(c.Expiry)
		if err != nil {
			return Instrument{}, fmt.Errorf("option %s: %w", c.Symbol, err)
		}
		var kind InstrumentKind
		var right OptionRight
		switch c.Right {
		case "C", "CALL":
			kind, right = KindCall, RightCall
		case "P", "PUT":
			kind, right = KindPut, RightPut
		default:
			return Instrument{}, fmt.Errorf("%w: option %s right %q", apperrors.ErrMalformedContract, c.Symbol, c.Right)
		}
		return Instrument{Symbol: c.Symbol, Kind: kind, Strike: c.Strike, Expiry: expiry, Right: right}, nil

	case "FUT":
		expiry, err := NormalizeExpiry(c.Expiry)
		if err != nil {
			return Instrument{}, fmt.Errorf("future %s: %w", c.Symbol, err)
		}
		return Instrument{Symbol: c.Symbol, Kind: KindFuture, Expiry: expiry}, nil

	default:
		return Instrument{}, fmt.Errorf("%w: unsupported security type %q", apperrors.ErrMalformedContract, c.SecType)
	}
}

// ContractMultiplier resolves the valuation multiplier for a contract:
// the feed-provided value when present, otherwise 100 for standard equity
// options and 1 for everything else.
func ContractMultiplier(c Contract, kind InstrumentKind) int64 {
	if c.Multiplier > 0 {
		return c.Multiplier
	}
	if kind.IsOption() {
		return 100
	}
	return 1
}

// ClassifyAccount infers the account class from the broker's account-id
// naming convention. Kept behind one function so the policy is trivially
// replaceable.
func ClassifyAccount(accountID string) AccountClass {
	lower := strings.ToLower(accountID)
	if strings.Contains(lower, "retirement") || strings.Contains(lower, "ira") {
		return AccountTaxAdvantaged
	}
	return AccountTaxable
}
