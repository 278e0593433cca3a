package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"pricemux/internal/application"
	"pricemux/internal/application/port"
	"pricemux/internal/infrastructure/exchange"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// TickerFeed streams Binance miniTicker updates for a set of assets over
// one combined-stream session.
type TickerFeed struct {
	wsURL   string // e.g. wss://stream.binance.com:9443
	conv    exchange.SymbolConverter
	session exchange.SessionSettings
	status  *exchange.StatusTable
}

func NewTickerFeed(wsURL, quote string, session exchange.SessionSettings, status *exchange.StatusTable) *TickerFeed {
	return &TickerFeed{
		wsURL:   strings.TrimSpace(wsURL),
		conv:    exchange.NewSuffixSymbolConverter(quote),
		session: session,
		status:  status,
	}
}

func (f *TickerFeed) Name() string { return application.VenueBinance }

// combined stream envelope
type binanceCombined struct {
	Stream string         `json:"stream"`
	Data   binanceMiniMsg `json:"data"`
}

type binanceMiniMsg struct {
	EventType   string `json:"e"`
	Symbol      string `json:"s"`
	Close       string `json:"c"`
	Open        string `json:"o"`
	High        string `json:"h"`
	Low         string `json:"l"`
	QuoteVolume string `json:"q"`
	EventTime   int64  `json:"E"`
}

func (f *TickerFeed) Subscribe(ctx context.Context, symbols []string) (<-chan port.RawTick, error) {
	wsURL, err := buildCombinedURL(f.wsURL, f.conv, symbols)
	if err != nil {
		return nil, err
	}

	out := make(chan port.RawTick, 1024)
	hooks := exchange.SessionHooks{
		Dial: func(dctx context.Context) (*websocket.Conn, error) {
			conn, _, derr := websocket.DefaultDialer.DialContext(dctx, wsURL, nil)
			return conn, derr
		},
		// subscriptions are encoded in the URL, no control frames needed
		OnMessage: func(b []byte) {
			tick, ok := f.parse(b)
			if !ok {
				return
			}
			select {
			case out <- tick:
			default:
				log.Warn().Str("venue", f.Name()).Msg("tick buffer full, dropping")
			}
		},
	}

	go func() {
		defer close(out)
		exchange.RunSession(ctx, f.Name(), f.session, hooks, f.status)
	}()
	return out, nil
}

// parse converts one combined-stream frame to a RawTick. Any malformed
// frame is dropped.
func (f *TickerFeed) parse(b []byte) (port.RawTick, bool) {
	var msg binanceCombined
	if err := json.Unmarshal(b, &msg); err != nil {
		log.Debug().Str("venue", f.Name()).Err(err).Msg("json unmarshal failed")
		return port.RawTick{}, false
	}

	sym := strings.ToUpper(strings.TrimSpace(msg.Data.Symbol))
	if sym == "" {
		return port.RawTick{}, false
	}

	price, _ := strconv.ParseFloat(msg.Data.Close, 64)
	open, _ := strconv.ParseFloat(msg.Data.Open, 64)
	high, _ := strconv.ParseFloat(msg.Data.High, 64)
	low, _ := strconv.ParseFloat(msg.Data.Low, 64)
	vol, _ := strconv.ParseFloat(msg.Data.QuoteVolume, 64)

	var change float64
	if open > 0 {
		change = (price - open) / open * 100
	}

	ts := msg.Data.EventTime
	if ts <= 0 {
		ts = time.Now().UnixMilli()
	}

	return port.RawTick{
		Venue:     f.Name(),
		Symbol:    f.conv.Symbol2Coin(sym),
		Price:     price,
		Change24h: change,
		High24h:   high,
		Low24h:    low,
		Volume:    vol,
		Ts:        ts,
	}, true
}

func buildCombinedURL(base string, conv exchange.SymbolConverter, symbols []string) (string, error) {
	if base == "" {
		return "", errors.New("binance ws_url empty")
	}

	streams := make([]string, 0, len(symbols))
	for _, s := range symbols {
		inst := strings.ToLower(conv.Coin2Symbol(s))
		if inst == "" {
			continue
		}
		streams = append(streams, fmt.Sprintf("%s@miniTicker", inst))
	}
	if len(streams) == 0 {
		return "", errors.New("no valid symbols")
	}

	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	u.Path = "/stream"
	u.RawQuery = "streams=" + strings.Join(streams, "/")
	return u.String(), nil
}
