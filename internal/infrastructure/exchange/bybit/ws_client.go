package bybit

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

// TickerFeed streams Bybit v5 spot ticker updates.
type TickerFeed struct {
	wsURL   string // e.g. wss://stream.bybit.com/v5/public/spot
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

func (f *TickerFeed) Name() string { return application.VenueBybit }

type bybitSubReq struct {
	Op   string   `json:"op"`
	Args []string `json:"args"`
}

type bybitTickerItem struct {
	Symbol       string `json:"symbol"`
	LastPrice    string `json:"lastPrice"`
	Price24hPcnt string `json:"price24hPcnt"`
	HighPrice24h string `json:"highPrice24h"`
	LowPrice24h  string `json:"lowPrice24h"`
	Turnover24h  string `json:"turnover24h"`
}

// data can be object OR array depending on topic type
type bybitDataList []bybitTickerItem

func (d *bybitDataList) UnmarshalJSON(b []byte) error {
	b = trimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*d = nil
		return nil
	}
	switch b[0] {
	case '[':
		var arr []bybitTickerItem
		if err := json.Unmarshal(b, &arr); err != nil {
			return err
		}
		*d = arr
		return nil
	case '{':
		var one bybitTickerItem
		if err := json.Unmarshal(b, &one); err != nil {
			return err
		}
		*d = bybitDataList{one}
		return nil
	default:
		return fmt.Errorf("unexpected data json: %s", string(b))
	}
}

func trimSpace(b []byte) []byte {
	i := 0
	j := len(b) - 1
	for i <= j && (b[i] == ' ' || b[i] == '\n' || b[i] == '\r' || b[i] == '\t') {
		i++
	}
	for j >= i && (b[j] == ' ' || b[j] == '\n' || b[j] == '\r' || b[j] == '\t') {
		j--
	}
	if i > j {
		return []byte{}
	}
	return b[i : j+1]
}

type bybitTickerMsg struct {
	Topic string        `json:"topic"`
	Type  string        `json:"type"`
	Ts    int64         `json:"ts"`
	Data  bybitDataList `json:"data"`

	Success *bool  `json:"success,omitempty"`
	RetMsg  string `json:"ret_msg,omitempty"`
	Op      string `json:"op,omitempty"`
}

func (f *TickerFeed) Subscribe(ctx context.Context, symbols []string) (<-chan port.RawTick, error) {
	topics := make([]string, 0, len(symbols))
	for _, s := range symbols {
		inst := f.conv.Coin2Symbol(s)
		if inst == "" {
			continue
		}
		topics = append(topics, "tickers."+inst)
	}
	if len(topics) == 0 {
		return nil, fmt.Errorf("bybit: no valid symbols")
	}

	out := make(chan port.RawTick, 1024)
	hooks := exchange.SessionHooks{
		Dial: func(dctx context.Context) (*websocket.Conn, error) {
			conn, _, derr := websocket.DefaultDialer.DialContext(dctx, f.wsURL, nil)
			return conn, derr
		},
		Subscribe: func(conn *websocket.Conn) error {
			return conn.WriteJSON(bybitSubReq{Op: "subscribe", Args: topics})
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
	var msg bybitTickerMsg
	if err := json.Unmarshal(b, &msg); err != nil {
		log.Debug().Str("venue", f.Name()).Err(err).Msg("json unmarshal failed")
		return nil
	}

	// command acks carry op/success, not data
	if msg.Op != "" || msg.Success != nil {
		if msg.Success != nil && !*msg.Success {
			log.Warn().Str("venue", f.Name()).Str("ret_msg", msg.RetMsg).Msg("subscribe rejected")
		}
		return nil
	}
	if !strings.HasPrefix(msg.Topic, "tickers.") || len(msg.Data) == 0 {
		return nil
	}

	ts := msg.Ts
	if ts <= 0 {
		ts = time.Now().UnixMilli()
	}

	out := make([]port.RawTick, 0, len(msg.Data))
	for _, item := range msg.Data {
		sym := strings.ToUpper(strings.TrimSpace(item.Symbol))
		if sym == "" {
			continue
		}
		price, _ := strconv.ParseFloat(item.LastPrice, 64)
		pcnt, _ := strconv.ParseFloat(item.Price24hPcnt, 64)
		high, _ := strconv.ParseFloat(item.HighPrice24h, 64)
		low, _ := strconv.ParseFloat(item.LowPrice24h, 64)
		vol, _ := strconv.ParseFloat(item.Turnover24h, 64)

		out = append(out, port.RawTick{
			Venue:     f.Name(),
			Symbol:    f.conv.Symbol2Coin(sym),
			Price:     price,
			Change24h: pcnt * 100, // bybit reports a fraction
			High24h:   high,
			Low24h:    low,
			Volume:    vol,
			Ts:        ts,
		})
	}
	return out
}
