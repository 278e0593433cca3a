package okx

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

// TickerFeed streams OKX v5 public tickers.
type TickerFeed struct {
	wsURL   string // e.g. wss://ws.okx.com:8443/ws/v5/public
	conv    exchange.SymbolConverter
	session exchange.SessionSettings
	status  *exchange.StatusTable
}

func NewTickerFeed(wsURL, quote string, session exchange.SessionSettings, status *exchange.StatusTable) *TickerFeed {
	return &TickerFeed{
		wsURL:   strings.TrimSpace(wsURL),
		conv:    exchange.NewSeparatedSymbolConverter(quote, "-"),
		session: session,
		status:  status,
	}
}

func (f *TickerFeed) Name() string { return application.VenueOKX }

type okxSubReq struct {
	Op   string      `json:"op"`
	Args []okxSubArg `json:"args"`
}

type okxSubArg struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId"`
}

type okxTickerMsg struct {
	Event string          `json:"event,omitempty"`
	Msg   string          `json:"msg,omitempty"`
	Arg   okxSubArg       `json:"arg,omitempty"`
	Data  []okxTickerData `json:"data,omitempty"`
}

type okxTickerData struct {
	InstID    string `json:"instId"`
	Last      string `json:"last"`
	Open24h   string `json:"open24h"`
	High24h   string `json:"high24h"`
	Low24h    string `json:"low24h"`
	VolCcy24h string `json:"volCcy24h"`
	Ts        string `json:"ts"`
}

func (f *TickerFeed) Subscribe(ctx context.Context, symbols []string) (<-chan port.RawTick, error) {
	args := make([]okxSubArg, 0, len(symbols))
	for _, s := range symbols {
		inst := f.conv.Coin2Symbol(s)
		if inst == "" {
			continue
		}
		args = append(args, okxSubArg{Channel: "tickers", InstID: inst})
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("okx: no valid symbols")
	}

	out := make(chan port.RawTick, 1024)
	hooks := exchange.SessionHooks{
		Dial: func(dctx context.Context) (*websocket.Conn, error) {
			conn, _, derr := websocket.DefaultDialer.DialContext(dctx, f.wsURL, nil)
			return conn, derr
		},
		Subscribe: func(conn *websocket.Conn) error {
			return conn.WriteJSON(okxSubReq{Op: "subscribe", Args: args})
		},
		OnMessage: func(b []byte) {
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
	var msg okxTickerMsg
	if err := json.Unmarshal(b, &msg); err != nil {
		log.Debug().Str("venue", f.Name()).Err(err).Msg("json unmarshal failed")
		return nil
	}

	if msg.Event != "" {
		if msg.Event == "error" {
			log.Warn().Str("venue", f.Name()).Str("msg", msg.Msg).Msg("subscribe rejected")
		}
		return nil
	}
	if msg.Arg.Channel != "tickers" || len(msg.Data) == 0 {
		return nil
	}

	out := make([]port.RawTick, 0, len(msg.Data))
	for _, d := range msg.Data {
		inst := strings.ToUpper(strings.TrimSpace(d.InstID))
		if inst == "" {
			continue
		}
		price, _ := strconv.ParseFloat(d.Last, 64)
		open, _ := strconv.ParseFloat(d.Open24h, 64)
		high, _ := strconv.ParseFloat(d.High24h, 64)
		low, _ := strconv.ParseFloat(d.Low24h, 64)
		vol, _ := strconv.ParseFloat(d.VolCcy24h, 64)

		var change float64
		if open > 0 {
			change = (price - open) / open * 100
		}

		ts, _ := strconv.ParseInt(d.Ts, 10, 64)
		if ts <= 0 {
			ts = time.Now().UnixMilli()
		}

		out = append(out, port.RawTick{
			Venue:     f.Name(),
			Symbol:    f.conv.Symbol2Coin(inst),
			Price:     price,
			Change24h: change,
			High24h:   high,
			Low24h:    low,
			Volume:    vol,
			Ts:        ts,
		})
	}
	return out
}
