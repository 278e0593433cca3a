package binance

import (
	"pricemux/internal/application"
	"pricemux/internal/application/port"
	"pricemux/internal/infrastructure/pricefeed"
)

// init() registers the Binance feed factory so wiring code never hardcodes
// the venue.
func init() {
	pricefeed.Register(application.VenueBinance, func(cfg pricefeed.FeedConfig) port.PriceFeed {
		return NewTickerFeed(cfg.WsURL, cfg.Quote, cfg.Session, cfg.Status)
	})
}
