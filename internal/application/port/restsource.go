package port

import "context"

// RestSource is a venue's polled ticker endpoint, used by the fallback
// controller when no streaming session can serve an asset. FetchTicker
// takes the venue's own instrument id, not the asset symbol.
type RestSource interface {
	Name() string
	FetchTicker(ctx context.Context, instrument string) (RawTick, error)
}
