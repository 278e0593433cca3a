package okx

import (
	"pricemux/internal/application"
	"pricemux/internal/application/port"
	"pricemux/internal/infrastructure/pricefeed"
)

func init() {
	pricefeed.Register(application.VenueOKX, func(cfg pricefeed.FeedConfig) port.PriceFeed {
		return NewTickerFeed(cfg.WsURL, cfg.Quote, cfg.Session, cfg.Status)
	})
}
