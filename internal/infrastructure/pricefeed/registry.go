package pricefeed

import (
	"pricemux/internal/application/port"
	"pricemux/internal/infrastructure/exchange"

	"github.com/rs/zerolog/log"
)

// FeedConfig is everything a venue feed needs at construction time. The
// status table is shared across venues so the engine can answer
// connectionStatus() from one place.
type FeedConfig struct {
	WsURL   string
	Quote   string
	Session exchange.SessionSettings
	Status  *exchange.StatusTable
}

// Factory builds one venue's price feed.
type Factory func(cfg FeedConfig) port.PriceFeed

// registry maps venue names to their feed factories
var registry = make(map[string]Factory)

// Register is called from each venue package's init(), so adding a venue
// never touches wiring code.
func Register(venue string, factory Factory) {
	if factory == nil {
		log.Warn().Str("venue", venue).Msg("invalid price feed factory")
		return
	}
	if _, exists := registry[venue]; exists {
		log.Warn().Str("venue", venue).Msg("price feed factory already registered, overwriting")
	}
	registry[venue] = factory
	log.Debug().Str("venue", venue).Msg("price feed factory registered")
}

// Get returns the registered factory for a venue name.
func Get(venue string) (Factory, bool) {
	factory, ok := registry[venue]
	return factory, ok
}
