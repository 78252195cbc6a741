// Package binance implements the live exchange gateway against the
// Binance USDT-M futures REST and websocket APIs.
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"gridbot/pkg/exchange"
)

const Name = "binance"

type API struct {
	key     string
	secret  string
	baseURL string
	symbol  string

	tickSize decimal.Decimal
	stepSize decimal.Decimal
	minQty   decimal.Decimal

	client http.Client
	log    *zap.Logger
}

func NewAPI(key, secret, baseURL, symbol string, log *zap.Logger) *API {
	return &API{
		key:     key,
		secret:  secret,
		baseURL: baseURL,
		symbol:  symbol,
		// conservative defaults until exchange info is loaded
		tickSize: decimal.RequireFromString("0.01"),
		stepSize: decimal.RequireFromString("0.001"),
		minQty:   decimal.RequireFromString("0.001"),
		client: http.Client{
			Timeout: 5 * time.Second,
		},
		log: log,
	}
}

// Init loads symbol filters and sets leverage. Both are warn-only:
// the gateway stays usable with fallback filters.
func (api *API) Init(ctx context.Context, leverage int) {
	if err := api.loadSymbolFilters(ctx); err != nil {
		api.log.Warn("failed to load exchange info, using fallback filters",
			zap.String("symbol", api.symbol), zap.Error(err))
	}

	if err := api.setLeverage(ctx, leverage); err != nil {
		api.log.Warn("failed to set leverage", zap.Int("leverage", leverage), zap.Error(err))
	}
}

// signedCall performs a signed request and returns the response body.
// A non-200 status is returned as an error carrying the body.
func (api *API) signedCall(ctx context.Context, method, path, query string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, api.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("binance: failed to create %s %s request: %w", method, path, err)
	}

	req.URL.RawQuery = signRequest(api.secret, query, "", time.Now().UTC())
	req.Header.Add("X-MBX-APIKEY", api.key)

	resp, err := api.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("binance: failed to perform %s %s: %w", method, path, err)
	}

	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("binance: failed to read %s %s response: %w", method, path, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("binance: %s %s returned code %d: %s", method, path, resp.StatusCode, string(b))
	}

	return b, nil
}

// publicCall performs an unsigned request.
func (api *API) publicCall(ctx context.Context, path, query string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", api.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("binance: failed to create GET %s request: %w", path, err)
	}
	req.URL.RawQuery = query

	resp, err := api.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("binance: failed to perform GET %s: %w", path, err)
	}

	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("binance: failed to read GET %s response: %w", path, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("binance: GET %s returned code %d: %s", path, resp.StatusCode, string(b))
	}

	return b, nil
}

type exchangeInfoResp struct {
	Symbols []struct {
		Symbol  string `json:"symbol"`
		Filters []struct {
			FilterType string `json:"filterType"`
			TickSize   string `json:"tickSize"`
			StepSize   string `json:"stepSize"`
			MinQty     string `json:"minQty"`
		} `json:"filters"`
	} `json:"symbols"`
}

func (api *API) loadSymbolFilters(ctx context.Context) error {
	b, err := api.publicCall(ctx, "/fapi/v1/exchangeInfo", "")
	if err != nil {
		return err
	}

	var info exchangeInfoResp
	if err := json.Unmarshal(b, &info); err != nil {
		return fmt.Errorf("binance: failed to unmarshal exchange info: %w", err)
	}

	want := symbolToExchange(api.symbol)
	for _, s := range info.Symbols {
		if s.Symbol != want {
			continue
		}
		for _, f := range s.Filters {
			switch f.FilterType {
			case "PRICE_FILTER":
				if v, err := decimal.NewFromString(f.TickSize); err == nil && v.IsPositive() {
					api.tickSize = v
				}
			case "LOT_SIZE":
				if v, err := decimal.NewFromString(f.StepSize); err == nil && v.IsPositive() {
					api.stepSize = v
				}
				if v, err := decimal.NewFromString(f.MinQty); err == nil && v.IsPositive() {
					api.minQty = v
				}
			}
		}
		return nil
	}

	return fmt.Errorf("binance: symbol %s not found in exchange info", want)
}

func (api *API) setLeverage(ctx context.Context, leverage int) error {
	values := url.Values{}
	values.Add("symbol", symbolToExchange(api.symbol))
	values.Add("leverage", fmt.Sprintf("%d", leverage))
	_, err := api.signedCall(ctx, "POST", "/fapi/v1/leverage", values.Encode())
	return err
}

// RoundPrice snaps a price to the nearest tick.
func (api *API) RoundPrice(price decimal.Decimal) decimal.Decimal {
	return price.Div(api.tickSize).Round(0).Mul(api.tickSize)
}

// RoundQty truncates a quantity to the lot step, never below the minimum.
func (api *API) RoundQty(qty decimal.Decimal) decimal.Decimal {
	q := qty.Div(api.stepSize).Floor().Mul(api.stepSize)
	if q.LessThan(api.minQty) {
		q = api.minQty
	}
	return q
}

type listenKeyResp struct {
	ListenKey string `json:"listenKey"`
}

func (api *API) GetListenKey(ctx context.Context) (string, error) {
	b, err := api.signedCall(ctx, "POST", "/fapi/v1/listenKey", "")
	if err != nil {
		return "", fmt.Errorf("binance.GetListenKey: %w", err)
	}

	var respData listenKeyResp
	if err := json.Unmarshal(b, &respData); err != nil {
		return "", fmt.Errorf("binance.GetListenKey failed to unmarshal response: %w", err)
	}

	if respData.ListenKey == "" {
		return "", fmt.Errorf("binance.GetListenKey got empty listen key")
	}

	return respData.ListenKey, nil
}

func (api *API) KeepAliveListenKey(ctx context.Context, key string) error {
	_, err := api.signedCall(ctx, "PUT", "/fapi/v1/listenKey", "")
	if err != nil {
		return fmt.Errorf("binance.KeepAliveListenKey: %w", err)
	}
	return nil
}

func (api *API) CloseListenKey(ctx context.Context, key string) error {
	_, err := api.signedCall(ctx, "DELETE", "/fapi/v1/listenKey", "")
	if err != nil {
		return fmt.Errorf("binance.CloseListenKey: %w", err)
	}
	return nil
}

type accountResp struct {
	Assets []struct {
		Asset            string `json:"asset"`
		AvailableBalance string `json:"availableBalance"`
	} `json:"assets"`
}

func (api *API) GetAvailableBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	b, err := api.signedCall(ctx, "GET", "/fapi/v2/account", "")
	if err != nil {
		return decimal.Zero, fmt.Errorf("binance.GetAvailableBalance: %w", err)
	}

	var acc accountResp
	if err := json.Unmarshal(b, &acc); err != nil {
		return decimal.Zero, fmt.Errorf("binance.GetAvailableBalance failed to unmarshal response: %w", err)
	}

	want := symbolToExchange(asset)
	for _, a := range acc.Assets {
		if a.Asset == want {
			v, err := decimal.NewFromString(a.AvailableBalance)
			if err != nil {
				return decimal.Zero, fmt.Errorf("binance.GetAvailableBalance failed to parse balance %q: %w", a.AvailableBalance, err)
			}
			return v, nil
		}
	}

	return decimal.Zero, nil
}

type positionRiskResp struct {
	Symbol      string `json:"symbol"`
	PositionAmt string `json:"positionAmt"`
	EntryPrice  string `json:"entryPrice"`
}

func (api *API) GetPositionSnapshot(ctx context.Context, symbol string) (exchange.PositionSnapshot, error) {
	values := url.Values{}
	values.Add("symbol", symbolToExchange(symbol))
	b, err := api.signedCall(ctx, "GET", "/fapi/v2/positionRisk", values.Encode())
	if err != nil {
		return exchange.PositionSnapshot{}, fmt.Errorf("binance.GetPositionSnapshot: %w", err)
	}

	var positions []positionRiskResp
	if err := json.Unmarshal(b, &positions); err != nil {
		return exchange.PositionSnapshot{}, fmt.Errorf("binance.GetPositionSnapshot failed to unmarshal response: %w", err)
	}

	want := symbolToExchange(symbol)
	for _, p := range positions {
		if p.Symbol != want {
			continue
		}
		qty, err := decimal.NewFromString(p.PositionAmt)
		if err != nil {
			return exchange.PositionSnapshot{}, fmt.Errorf("binance.GetPositionSnapshot failed to parse positionAmt %q: %w", p.PositionAmt, err)
		}
		entry, err := decimal.NewFromString(p.EntryPrice)
		if err != nil {
			return exchange.PositionSnapshot{}, fmt.Errorf("binance.GetPositionSnapshot failed to parse entryPrice %q: %w", p.EntryPrice, err)
		}
		return exchange.PositionSnapshot{Quantity: qty, EntryPrice: entry}, nil
	}

	return exchange.PositionSnapshot{Quantity: decimal.Zero, EntryPrice: decimal.Zero}, nil
}

type symbolTickerResp struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

func (api *API) GetSymbolPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	b, err := api.publicCall(ctx, "/fapi/v1/ticker/price", "symbol="+symbolToExchange(symbol))
	if err != nil {
		return decimal.Zero, fmt.Errorf("binance.GetSymbolPrice: %w", err)
	}

	var ticker symbolTickerResp
	if err := json.Unmarshal(b, &ticker); err != nil {
		return decimal.Zero, fmt.Errorf("binance.GetSymbolPrice failed to unmarshal response: %w", err)
	}

	price, err := decimal.NewFromString(ticker.Price)
	if err != nil {
		return decimal.Zero, fmt.Errorf("binance.GetSymbolPrice failed to parse price %q: %w", ticker.Price, err)
	}

	return price, nil
}
