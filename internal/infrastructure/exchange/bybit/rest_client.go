package bybit

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

// RestClient polls Bybit's v5 market tickers endpoint.
type RestClient struct {
	baseURL string
	conv    exchange.SymbolConverter
	client  *http.Client
}

func NewRestClient(baseURL, quote string) *RestClient {
	if baseURL == "" {
		baseURL = "https://api.bybit.com"
	}
	return &RestClient{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		conv:    exchange.NewSuffixSymbolConverter(quote),
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *RestClient) Name() string { return application.VenueBybit }

type tickersResp struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  struct {
		List []bybitTickerItem `json:"list"`
	} `json:"result"`
}

// FetchTicker retrieves the spot ticker for one instrument id.
func (c *RestClient) FetchTicker(ctx context.Context, instrument string) (port.RawTick, error) {
	inst := strings.ToUpper(strings.TrimSpace(instrument))

	item, err := c.fetchItem(ctx, inst)
	if err != nil {
		return port.RawTick{}, err
	}

	price, _ := strconv.ParseFloat(item.LastPrice, 64)
	pcnt, _ := strconv.ParseFloat(item.Price24hPcnt, 64)
	high, _ := strconv.ParseFloat(item.HighPrice24h, 64)
	low, _ := strconv.ParseFloat(item.LowPrice24h, 64)
	vol, _ := strconv.ParseFloat(item.Turnover24h, 64)

	return port.RawTick{
		Venue:     c.Name(),
		Symbol:    c.conv.Symbol2Coin(inst),
		Price:     price,
		Change24h: pcnt * 100,
		High24h:   high,
		Low24h:    low,
		Volume:    vol,
		Ts:        time.Now().UnixMilli(),
	}, nil
}

// FindInstrument probes the tickers endpoint with the converter-derived id.
func (c *RestClient) FindInstrument(ctx context.Context, coin string) (string, error) {
	inst := c.conv.Coin2Symbol(coin)
	if _, err := c.fetchItem(ctx, inst); err != nil {
		return "", err
	}
	return inst, nil
}

func (c *RestClient) fetchItem(ctx context.Context, inst string) (bybitTickerItem, error) {
	url := fmt.Sprintf("%s/v5/market/tickers?category=spot&symbol=%s", c.baseURL, inst)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return bybitTickerItem{}, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return bybitTickerItem{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return bybitTickerItem{}, fmt.Errorf("bybit api error: %d", resp.StatusCode)
	}

	var result tickersResp
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return bybitTickerItem{}, err
	}
	if result.RetCode != 0 {
		return bybitTickerItem{}, fmt.Errorf("bybit api error: %d %s", result.RetCode, result.RetMsg)
	}
	if len(result.Result.List) == 0 {
		return bybitTickerItem{}, fmt.Errorf("bybit: %s not listed", inst)
	}
	return result.Result.List[0], nil
}

var _ port.RestSource = (*RestClient)(nil)
var _ exchange.InstrumentFinder = (*RestClient)(nil)
