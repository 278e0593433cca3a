package okx

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

// RestClient polls OKX's v5 market ticker endpoint.
type RestClient struct {
	baseURL string
	conv    exchange.SymbolConverter
	client  *http.Client
}

func NewRestClient(baseURL, quote string) *RestClient {
	if baseURL == "" {
		baseURL = "https://www.okx.com"
	}
	return &RestClient{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		conv:    exchange.NewSeparatedSymbolConverter(quote, "-"),
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *RestClient) Name() string { return application.VenueOKX }

type okxRestResp struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data []okxTickerData `json:"data"`
}

// FetchTicker retrieves the ticker for one instrument id, e.g. BTC-USDT.
func (c *RestClient) FetchTicker(ctx context.Context, instrument string) (port.RawTick, error) {
	inst := strings.ToUpper(strings.TrimSpace(instrument))

	d, err := c.fetchData(ctx, inst)
	if err != nil {
		return port.RawTick{}, err
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

// FindInstrument probes the ticker endpoint with the converter-derived id.
func (c *RestClient) FindInstrument(ctx context.Context, coin string) (string, error) {
	inst := c.conv.Coin2Symbol(coin)
	if _, err := c.fetchData(ctx, inst); err != nil {
		return "", err
	}
	return inst, nil
}

func (c *RestClient) fetchData(ctx context.Context, inst string) (okxTickerData, error) {
	url := fmt.Sprintf("%s/api/v5/market/ticker?instId=%s", c.baseURL, inst)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return okxTickerData{}, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return okxTickerData{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return okxTickerData{}, fmt.Errorf("okx api error: %d", resp.StatusCode)
	}

	var result okxRestResp
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return okxTickerData{}, err
	}
	if result.Code != "0" {
		return okxTickerData{}, fmt.Errorf("okx api error: %s %s", result.Code, result.Msg)
	}
	if len(result.Data) == 0 {
		return okxTickerData{}, fmt.Errorf("okx: %s not listed", inst)
	}
	return result.Data[0], nil
}

var _ port.RestSource = (*RestClient)(nil)
var _ exchange.InstrumentFinder = (*RestClient)(nil)
