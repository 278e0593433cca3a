package exchange

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// InstrumentFinder is a venue's remote instrument lookup, typically a REST
// probe. It returns the venue instrument id for a canonical symbol, or an
// error when the venue does not list the asset.
type InstrumentFinder interface {
	FindInstrument(ctx context.Context, coin string) (string, error)
}

// Registry resolves canonical symbols to per-venue instrument ids.
// Resolution order: static table (configuration), then the venue's default
// converter confirmed once via remote lookup when a finder is registered.
// Results are cached both ways; a failed lookup is cached as a negative so
// a missing listing is not re-queried on every tick cycle.
type Registry struct {
	mu          sync.Mutex
	static      map[string]map[string]string // venue -> coin -> instrument
	converters  map[string]SymbolConverter
	finders     map[string]InstrumentFinder
	resolved    map[string]string    // venue:coin -> instrument
	negative    map[string]time.Time // venue:coin -> cached-at
	negativeTTL time.Duration
}

func NewRegistry(negativeTTL time.Duration) *Registry {
	if negativeTTL <= 0 {
		negativeTTL = time.Hour
	}
	return &Registry{
		static:      make(map[string]map[string]string),
		converters:  make(map[string]SymbolConverter),
		finders:     make(map[string]InstrumentFinder),
		resolved:    make(map[string]string),
		negative:    make(map[string]time.Time),
		negativeTTL: negativeTTL,
	}
}

// AddVenue registers the venue's default converter and optional remote
// finder. A nil finder means the converter's guess is trusted as-is.
func (r *Registry) AddVenue(venue string, conv SymbolConverter, finder InstrumentFinder) {
	r.mu.Lock()
	r.converters[venue] = conv
	if finder != nil {
		r.finders[venue] = finder
	}
	r.mu.Unlock()
}

// AddMapping seeds one static canonical->instrument entry for a venue.
func (r *Registry) AddMapping(coin, venue, instrument string) {
	coin = strings.ToUpper(strings.TrimSpace(coin))
	instrument = strings.TrimSpace(instrument)
	if coin == "" || instrument == "" {
		return
	}
	r.mu.Lock()
	if r.static[venue] == nil {
		r.static[venue] = make(map[string]string)
	}
	r.static[venue][coin] = instrument
	r.mu.Unlock()
}

// Resolve returns the venue instrument id for a canonical symbol. It never
// returns an error: a venue that cannot serve the asset yields ok=false.
func (r *Registry) Resolve(ctx context.Context, coin, venue string) (string, bool) {
	coin = strings.ToUpper(strings.TrimSpace(coin))
	if coin == "" {
		return "", false
	}
	key := venue + ":" + coin

	r.mu.Lock()
	if m := r.static[venue]; m != nil {
		if inst, ok := m[coin]; ok {
			r.mu.Unlock()
			return inst, true
		}
	}
	if inst, ok := r.resolved[key]; ok {
		r.mu.Unlock()
		return inst, true
	}
	if at, ok := r.negative[key]; ok && time.Since(at) < r.negativeTTL {
		r.mu.Unlock()
		return "", false
	}
	delete(r.negative, key)
	conv := r.converters[venue]
	finder := r.finders[venue]
	r.mu.Unlock()

	if conv == nil {
		return "", false
	}
	guess := conv.Coin2Symbol(coin)
	if guess == "" {
		return "", false
	}

	if finder == nil {
		r.mu.Lock()
		r.resolved[key] = guess
		r.mu.Unlock()
		return guess, true
	}

	inst, err := finder.FindInstrument(ctx, coin)
	if err != nil {
		log.Debug().Str("venue", venue).Str("symbol", coin).Err(err).Msg("instrument lookup failed, caching negative")
		r.mu.Lock()
		r.negative[key] = time.Now()
		r.mu.Unlock()
		return "", false
	}

	r.mu.Lock()
	r.resolved[key] = inst
	r.mu.Unlock()
	return inst, true
}

// Coverage returns, in the given venue priority order, the venues that can
// serve the asset.
func (r *Registry) Coverage(ctx context.Context, coin string, venueOrder []string) []string {
	var out []string
	for _, v := range venueOrder {
		if _, ok := r.Resolve(ctx, coin, v); ok {
			out = append(out, v)
		}
	}
	return out
}
