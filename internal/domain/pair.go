package domain

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// UnknownSymbol is returned when an address has no registered token.
const UnknownSymbol = "UNKNOWN"

// Token is an ERC-20 asset known to the registry. Decimals is the per-asset
// scale used to convert base-unit amounts into display units.
type Token struct {
	Address  string `json:"address" toml:"address"`
	Symbol   string `json:"symbol" toml:"symbol"`
	Decimals int32  `json:"decimals" toml:"decimals"`
}

// TokenPair identifies a tradeable market. Symbol is derived for display and
// never used for identity.
type TokenPair struct {
	BaseToken  string `json:"baseToken"`
	QuoteToken string `json:"quoteToken"`
	Symbol     string `json:"symbol"`
}

// Key returns the order-independent identity of the pair.
func (p TokenPair) Key() string {
	return PairKey(p.BaseToken, p.QuoteToken)
}

// Valid reports whether both sides are distinct well-formed addresses.
func (p TokenPair) Valid() bool {
	b, errB := NormalizeAddress(p.BaseToken)
	q, errQ := NormalizeAddress(p.QuoteToken)
	return errB == nil && errQ == nil && b != q
}

// PairKey normalises two addresses into a lower-cased, sorted key so that
// {A,B} and {B,A} collide.
func PairKey(a, b string) string {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if b < a {
		a, b = b, a
	}
	return a + ":" + b
}

// NormalizeAddress validates a hex address and returns its lower-cased form.
func NormalizeAddress(addr string) (string, error) {
	return ParseAddress("address", addr)
}

// ParseAddress is NormalizeAddress reporting failures against field.
func ParseAddress(field, addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "", Invalid(field, "required")
	}
	if !common.IsHexAddress(addr) {
		return "", Invalid(field, "malformed address "+addr)
	}
	return strings.ToLower(common.HexToAddress(addr).Hex()), nil
}

// SameAddress compares two addresses case-insensitively.
func SameAddress(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
