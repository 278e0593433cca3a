package domain

// Snapshot sources that are not a venue name.
const (
	SourceCache    = "cache"
	SourceRestored = "restored"
)

// Direction represents the displayed price movement direction
type Direction int

const (
	DirectionSame Direction = 0
	DirectionUp   Direction = +1
	DirectionDown Direction = -1
)

// PriceSnapshot is the authoritative per-asset view the engine publishes.
// Price/Change24h hold the last validated raw values; DisplayPrice and
// DisplayChange24h are the animated values consumers render. Neither Price
// nor DisplayPrice is ever set to a non-positive value.
type PriceSnapshot struct {
	Symbol           string    `json:"symbol"`
	Price            float64   `json:"price"`
	DisplayPrice     float64   `json:"display_price"`
	Change24h        float64   `json:"change_24h"`
	DisplayChange24h float64   `json:"display_change_24h"`
	High24h          float64   `json:"high_24h"`
	Low24h           float64   `json:"low_24h"`
	Volume           float64   `json:"volume"`
	LastUpdate       int64     `json:"ts_ms"` // unix ms
	Source           string    `json:"source"`
	Unsupported      bool      `json:"unsupported,omitempty"`
	Direction        Direction `json:"-"`
}

// CacheRecord is the unit written to durable storage: one timestamp plus
// every snapshot that had a valid price at save time. Loaders must treat a
// record older than the configured TTL as absent.
type CacheRecord struct {
	Ts        int64           `json:"ts_ms"`
	Snapshots []PriceSnapshot `json:"snapshots"`
}
