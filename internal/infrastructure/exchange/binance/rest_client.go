package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"pricemux/internal/application"
	"pricemux/internal/application/port"
	"pricemux/internal/infrastructure/exchange"
)

// RestClient polls Binance's 24h ticker endpoint. It backs the fallback
// chain and doubles as the registry's instrument finder.
type RestClient struct {
	baseURL string
	conv    exchange.SymbolConverter
	client  *http.Client
}

func NewRestClient(baseURL, quote string) *RestClient {
	if baseURL == "" {
		baseURL = "https://api.binance.com"
	}
	return &RestClient{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		conv:    exchange.NewSuffixSymbolConverter(quote),
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *RestClient) Name() string { return application.VenueBinance }

type ticker24hResp struct {
	Symbol             string `json:"symbol"`
	LastPrice          string `json:"lastPrice"`
	PriceChangePercent string `json:"priceChangePercent"`
	HighPrice          string `json:"highPrice"`
	LowPrice           string `json:"lowPrice"`
	QuoteVolume        string `json:"quoteVolume"`
	CloseTime          int64  `json:"closeTime"`
}

// FetchTicker retrieves the 24h ticker summary for one instrument id.
func (c *RestClient) FetchTicker(ctx context.Context, instrument string) (port.RawTick, error) {
	inst := strings.ToUpper(strings.TrimSpace(instrument))
	url := fmt.Sprintf("%s/api/v3/ticker/24hr?symbol=%s", c.baseURL, inst)

	var result ticker24hResp
	if err := c.getJSON(ctx, url, &result); err != nil {
		return port.RawTick{}, err
	}

	price, _ := strconv.ParseFloat(result.LastPrice, 64)
	change, _ := strconv.ParseFloat(result.PriceChangePercent, 64)
	high, _ := strconv.ParseFloat(result.HighPrice, 64)
	low, _ := strconv.ParseFloat(result.LowPrice, 64)
	vol, _ := strconv.ParseFloat(result.QuoteVolume, 64)

	ts := result.CloseTime
	if ts <= 0 {
		ts = time.Now().UnixMilli()
	}

	return port.RawTick{
		Venue:     c.Name(),
		Symbol:    c.conv.Symbol2Coin(inst),
		Price:     price,
		Change24h: change,
		High24h:   high,
		Low24h:    low,
		Volume:    vol,
		Ts:        ts,
	}, nil
}

// FindInstrument probes exchangeInfo for the converter-derived id; a 200
// with a matching symbol confirms the listing.
func (c *RestClient) FindInstrument(ctx context.Context, coin string) (string, error) {
	inst := c.conv.Coin2Symbol(coin)
	url := fmt.Sprintf("%s/api/v3/exchangeInfo?symbol=%s", c.baseURL, inst)

	var result struct {
		Symbols []struct {
			Symbol string `json:"symbol"`
			Status string `json:"status"`
		} `json:"symbols"`
	}
	if err := c.getJSON(ctx, url, &result); err != nil {
		return "", err
	}
	for _, s := range result.Symbols {
		if s.Symbol == inst {
			return inst, nil
		}
	}
	return "", fmt.Errorf("binance: %s not listed", inst)
}

func (c *RestClient) getJSON(ctx context.Context, url string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("binance api error: %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

var _ port.RestSource = (*RestClient)(nil)
var _ exchange.InstrumentFinder = (*RestClient)(nil)
