package port

import "context"

// RawTick is one venue-agnostic price update. Venue adapters parse their
// wire format into this shape before anything else sees the message.
// Absent numeric fields are left as 0 and stripped by validation later.
type RawTick struct {
	Venue     string  // "binance", "bybit", ...
	Symbol    string  // canonical asset symbol, e.g. "BTC"
	Price     float64 // last trade / ticker price
	Change24h float64 // 24h change percent
	High24h   float64
	Low24h    float64
	Volume    float64 // venue 24h quote volume
	Ts        int64   // unix ms
}

// PriceFeed is one streaming venue adapter. Subscribe owns the session for
// its whole lifetime: connect, subscribe frames, heartbeat, reconnect with
// backoff and pre-emptive rotation all happen behind the returned channel.
// The channel closes only when ctx is cancelled.
type PriceFeed interface {
	Name() string
	Subscribe(ctx context.Context, symbols []string) (<-chan RawTick, error)
}
