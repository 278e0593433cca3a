package application

// Venue identifiers used across feeds, the registry and snapshot sources.
const (
	VenueBinance = "binance"
	VenueBybit   = "bybit"
	VenueOKX     = "okx"
	VenueBitget  = "bitget"
)

// AllVenues lists every venue the engine ships an adapter for.
// The effective set and priority order come from configuration.
var AllVenues = []string{VenueBinance, VenueBybit, VenueOKX, VenueBitget}
