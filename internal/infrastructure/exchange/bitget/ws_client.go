package bitget

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"pricemux/internal/application"
	"pricemux/internal/application/port"
	"pricemux/internal/infrastructure/exchange"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// TickerFeed streams Bitget v2 spot ticker updates.
type TickerFeed struct {
	wsURL   string // e.g. wss://ws.bitget.com/v2/ws/public
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

func (f *TickerFeed) Name() string { return application.VenueBitget }

type bitgetSubReq struct {
	Op   string         `json:"op"`
	Args []bitgetSubArg `json:"args"`
}

type bitgetSubArg struct {
	InstType string `json:"instType"`
	Channel  string `json:"channel"`
	InstID   string `json:"instId"`
}

type bitgetTickerMsg struct {
	Event  string             `json:"event,omitempty"`
	Action string             `json:"action,omitempty"`
	Arg    bitgetSubArg       `json:"arg,omitempty"`
	Data   []bitgetTickerData `json:"data,omitempty"`
	Ts     int64              `json:"ts,omitempty"`
}

type bitgetTickerData struct {
	InstID      string `json:"instId"`
	LastPr      string `json:"lastPr"`
	Change24h   string `json:"change24h"`
	High24h     string `json:"high24h"`
	Low24h      string `json:"low24h"`
	QuoteVolume string `json:"quoteVolume"`
	Ts          string `json:"ts"`
}

func (f *TickerFeed) Subscribe(ctx context.Context, symbols []string) (<-chan port.RawTick, error) {
	args := make([]bitgetSubArg, 0, len(symbols))
	for _, s := range symbols {
		inst := f.conv.Coin2Symbol(s)
		if inst == "" {
			continue
		}
		args = append(args, bitgetSubArg{InstType: "SPOT", Channel: "ticker", InstID: inst})
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("bitget: no valid symbols")
	}

	out := make(chan port.RawTick, 1024)
	hooks := exchange.SessionHooks{
		Dial: func(dctx context.Context) (*websocket.Conn, error) {
			conn, _, derr := websocket.DefaultDialer.DialContext(dctx, f.wsURL, nil)
			return conn, derr
		},
		Subscribe: func(conn *websocket.Conn) error {
			return conn.WriteJSON(bitgetSubReq{Op: "subscribe", Args: args})
		},
		OnMessage: func(b []byte) {
			// bitget answers text pings with a bare "pong"
			if string(b) == "pong" {
				return
			}
			for _, tick := range f.parse(b) {
				select {
				case out <- tick:
				default:
					log.Warn().Str("venue", f.Name()).Msg("tick buffer full, dropping")
				}
			}
		},
	}

	go func() {
		defer close(out)
		exchange.RunSession(ctx, f.Name(), f.session, hooks, f.status)
	}()
	return out, nil
}

func (f *TickerFeed) parse(b []byte) []port.RawTick {
	var msg bitgetTickerMsg
	if err := json.Unmarshal(b, &msg); err != nil {
		log.Debug().Str("venue", f.Name()).Err(err).Msg("json unmarshal failed")
		return nil
	}

	if msg.Event != "" {
		if msg.Event == "error" {
			log.Warn().Str("venue", f.Name()).Msg("subscribe rejected")
		}
		return nil
	}
	if msg.Arg.Channel != "ticker" || len(msg.Data) == 0 {
		return nil
	}

	out := make([]port.RawTick, 0, len(msg.Data))
	for _, d := range msg.Data {
		inst := strings.ToUpper(strings.TrimSpace(d.InstID))
		if inst == "" {
			continue
		}
		price, _ := strconv.ParseFloat(d.LastPr, 64)
		change, _ := strconv.ParseFloat(d.Change24h, 64)
		high, _ := strconv.ParseFloat(d.High24h, 64)
		low, _ := strconv.ParseFloat(d.Low24h, 64)
		vol, _ := strconv.ParseFloat(d.QuoteVolume, 64)

		ts, _ := strconv.ParseInt(d.Ts, 10, 64)
		if ts <= 0 {
			ts = time.Now().UnixMilli()
		}

		out = append(out, port.RawTick{
			Venue:     f.Name(),
			Symbol:    f.conv.Symbol2Coin(inst),
			Price:     price,
			Change24h: change * 100, // bitget reports a fraction
			High24h:   high,
			Low24h:    low,
			Volume:    vol,
			Ts:        ts,
		})
	}
	return out
}
