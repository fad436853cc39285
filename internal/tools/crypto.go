package tools

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

const coinGeckoURL = "https://api.coingecko.com/api/v3"

// CryptoTool reads prices and market data from CoinGecko.
type CryptoTool struct {
	client  *apiClient
	actions *actionSet
}

func NewCryptoTool(baseURL string, hc *http.Client) *CryptoTool {
	if baseURL == "" {
		baseURL = coinGeckoURL
	}
	c := &CryptoTool{client: newAPIClient(baseURL, hc)}

	c.actions = newActionSet(c.Name())
	c.actions.add(Action{
		Name:        "get_price",
		Aliases:     []string{"price"},
		Description: "Current price, market cap and 24h change of a coin",
		Parameters: schema(nil, map[string]any{
			"coin_id":     prop("string", "CoinGecko id, e.g. bitcoin, ethereum (default bitcoin)"),
			"vs_currency": prop("string", "usd, eur, gbp... (default usd)"),
		}),
	}, c.price)
	c.actions.add(Action{
		Name:        "get_trending",
		Aliases:     []string{"trending"},
		Description: "Trending coins right now",
		Parameters:  schema(nil, map[string]any{}),
	}, c.trending)
	c.actions.add(Action{
		Name:        "get_market_data",
		Aliases:     []string{"market_data"},
		Description: "Detailed market data for a coin",
		Parameters: schema(nil, map[string]any{
			"coin_id":     prop("string", "CoinGecko id (default bitcoin)"),
			"vs_currency": prop("string", "Quote currency (default usd)"),
		}),
	}, c.marketData)
	return c
}

func (c *CryptoTool) Name() string { return "crypto" }

func (c *CryptoTool) Description() string {
	return "Cryptocurrency prices, trending coins and market data (CoinGecko)."
}

func (c *CryptoTool) Actions() []Action { return c.actions.actions }

func (c *CryptoTool) Invoke(ctx context.Context, action string, params map[string]any) (any, error) {
	return c.actions.invoke(ctx, action, params)
}

func coinParams(p Params) (string, string) {
	coin := strings.ToLower(strings.TrimSpace(p.String("coin_id", p.String("coin", "bitcoin"))))
	currency := strings.ToLower(strings.TrimSpace(p.String("vs_currency", "usd")))
	return coin, currency
}

func (c *CryptoTool) price(ctx context.Context, p Params) (any, error) {
	coin, currency := coinParams(p)
	q := url.Values{}
	q.Set("ids", coin)
	q.Set("vs_currencies", currency)
	q.Set("include_24hr_change", "true")
	q.Set("include_market_cap", "true")
	q.Set("include_24hr_vol", "true")

	var data map[string]map[string]float64
	if err := c.client.getJSON(ctx, "/simple/price", q, &data); err != nil {
		return nil, err
	}
	quote, ok := data[coin]
	if !ok {
		// CoinGecko answers 200 with an empty object for unknown ids.
		err := StatusError(http.StatusNotFound, "")
		err.Err = fmt.Errorf("%w: coin '%s' not found, use the CoinGecko id such as 'bitcoin' or 'ethereum'", ErrNotFound, coin)
		return nil, err
	}
	return map[string]any{
		"coin":       coin,
		"currency":   strings.ToUpper(currency),
		"price":      quote[currency],
		"market_cap": quote[currency+"_market_cap"],
		"24h_volume": quote[currency+"_24h_vol"],
		"24h_change": fmt.Sprintf("%.2f%%", quote[currency+"_24h_change"]),
		"link":       "https://www.coingecko.com/en/coins/" + coin,
	}, nil
}

func (c *CryptoTool) trending(ctx context.Context, _ Params) (any, error) {
	var data struct {
		Coins []struct {
			Item struct {
				ID            string  `json:"id"`
				Name          string  `json:"name"`
				Symbol        string  `json:"symbol"`
				MarketCapRank int     `json:"market_cap_rank"`
				PriceBTC      float64 `json:"price_btc"`
			} `json:"item"`
		} `json:"coins"`
	}
	if err := c.client.getJSON(ctx, "/search/trending", nil, &data); err != nil {
		return nil, err
	}
	coins := make([]any, 0, 7)
	for i, entry := range data.Coins {
		if i >= 7 {
			break
		}
		coins = append(coins, map[string]any{
			"id":              entry.Item.ID,
			"name":            entry.Item.Name,
			"symbol":          entry.Item.Symbol,
			"market_cap_rank": entry.Item.MarketCapRank,
			"price_btc":       entry.Item.PriceBTC,
		})
	}
	return map[string]any{"trending_coins": coins}, nil
}

func (c *CryptoTool) marketData(ctx context.Context, p Params) (any, error) {
	coin, currency := coinParams(p)
	q := url.Values{}
	q.Set("localization", "false")
	q.Set("tickers", "false")
	q.Set("community_data", "false")
	q.Set("developer_data", "false")

	var data struct {
		Name          string `json:"name"`
		Symbol        string `json:"symbol"`
		MarketCapRank int    `json:"market_cap_rank"`
		MarketData    struct {
			CurrentPrice             map[string]float64 `json:"current_price"`
			MarketCap                map[string]float64 `json:"market_cap"`
			TotalVolume              map[string]float64 `json:"total_volume"`
			High24h                  map[string]float64 `json:"high_24h"`
			Low24h                   map[string]float64 `json:"low_24h"`
			PriceChange24h           float64            `json:"price_change_24h"`
			PriceChangePercentage24h float64            `json:"price_change_percentage_24h"`
			CirculatingSupply        float64            `json:"circulating_supply"`
			TotalSupply              *float64           `json:"total_supply"`
		} `json:"market_data"`
	}
	if err := c.client.getJSON(ctx, "/coins/"+url.PathEscape(coin), q, &data); err != nil {
		return nil, err
	}
	md := data.MarketData
	out := map[string]any{
		"name":                        data.Name,
		"symbol":                      strings.ToUpper(data.Symbol),
		"current_price":               md.CurrentPrice[currency],
		"market_cap":                  md.MarketCap[currency],
		"market_cap_rank":             data.MarketCapRank,
		"total_volume":                md.TotalVolume[currency],
		"high_24h":                    md.High24h[currency],
		"low_24h":                     md.Low24h[currency],
		"price_change_24h":            md.PriceChange24h,
		"price_change_percentage_24h": fmt.Sprintf("%.2f%%", md.PriceChangePercentage24h),
		"circulating_supply":          md.CirculatingSupply,
		"link":                        "https://www.coingecko.com/en/coins/" + coin,
	}
	if md.TotalSupply != nil {
		out["total_supply"] = *md.TotalSupply
	}
	return out, nil
}
