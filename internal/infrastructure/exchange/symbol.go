package exchange

import (
	"strings"
)

// SymbolConverter maps between canonical asset symbols and a venue's
// instrument ids.
type SymbolConverter interface {
	// Symbol2Coin converts an instrument id to the canonical symbol.
	// e.g. BTCUSDT -> BTC, BTC-USDT -> BTC
	Symbol2Coin(symbol string) string

	// Coin2Symbol converts a canonical symbol to an instrument id.
	// e.g. BTC -> BTCUSDT
	Coin2Symbol(coin string) string

	// SymbolSuffix returns the quote suffix, e.g. USDT or -USDT.
	SymbolSuffix() string
}

// SuffixSymbolConverter derives instrument ids by appending a quote suffix,
// with an optional separator for venues using dashed ids (OKX style).
type SuffixSymbolConverter struct {
	quote string
	sep   string
}

// NewSuffixSymbolConverter builds a converter for plain concatenated ids
// (BTC + USDT -> BTCUSDT).
func NewSuffixSymbolConverter(quote string) *SuffixSymbolConverter {
	return &SuffixSymbolConverter{quote: strings.ToUpper(strings.TrimSpace(quote))}
}

// NewSeparatedSymbolConverter builds a converter for separator-joined ids
// (BTC -> BTC-USDT).
func NewSeparatedSymbolConverter(quote, sep string) *SuffixSymbolConverter {
	return &SuffixSymbolConverter{quote: strings.ToUpper(strings.TrimSpace(quote)), sep: sep}
}

func (c *SuffixSymbolConverter) SymbolSuffix() string {
	return c.sep + c.quote
}

func (c *SuffixSymbolConverter) Symbol2Coin(symbol string) string {
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	if sym == "" {
		return ""
	}
	sym = strings.TrimSuffix(sym, c.SymbolSuffix())
	return sym
}

func (c *SuffixSymbolConverter) Coin2Symbol(coin string) string {
	coin = strings.ToUpper(strings.TrimSpace(coin))
	if coin == "" {
		return ""
	}
	if strings.HasSuffix(coin, c.SymbolSuffix()) {
		return coin
	}
	return coin + c.SymbolSuffix()
}
