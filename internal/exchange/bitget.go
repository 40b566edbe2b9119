package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/whalecopy/internal/domain"
)

// BitgetAdapter talks to Bitget's v2 REST API. Auth mirrors OKX: a
// passphrase plus base64 HMAC-SHA256 over timestamp+method+path+body.
type BitgetAdapter struct {
	base string
}

func NewBitgetAdapter() *BitgetAdapter {
	return &BitgetAdapter{base: "https://api.bitget.com"}
}

func (a *BitgetAdapter) Venue() domain.Venue { return domain.VenueBitget }

func bitgetSymbol(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(symbol, "-", ""))
}

func bitgetSide(side domain.Side) string {
	if side == domain.SideLong || side == domain.SideBuy {
		return "buy"
	}
	return "sell"
}

// bitgetHoldSide encodes Bitget's one-way futures position tag.
func bitgetHoldSide(side domain.Side) string {
	if side == domain.SideLong || side == domain.SideBuy {
		return "long"
	}
	return "short"
}

func (a *BitgetAdapter) signedRequest(ctx context.Context, creds Credentials, method, path, body string) ([]byte, error) {
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	prehash := ts + strings.ToUpper(method) + path + body
	sign := hmacSHA256Base64(creds.APISecret, prehash)

	var reader = strings.NewReader(body)
	req, err := http.NewRequestWithContext(ctx, method, a.base+path, reader)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("ACCESS-KEY", creds.APIKey)
	req.Header.Set("ACCESS-SIGN", sign)
	req.Header.Set("ACCESS-TIMESTAMP", ts)
	req.Header.Set("ACCESS-PASSPHRASE", creds.Passphrase)

	respBody, status, err := doRequest(req)
	if err != nil {
		return nil, err
	}
	return respBody, classifyBitgetStatus(status, respBody)
}

type bitgetEnvelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func classifyBitgetStatus(status int, body []byte) error {
	if status >= 500 {
		return domain.ErrRetryableNetwork
	}
	if status == 429 {
		return domain.NewRateLimited(0)
	}

	var env bitgetEnvelope
	_ = json.Unmarshal(body, &env)
	switch env.Code {
	case "", "00000":
		return nil
	case "43012", "40762":
		return domain.ErrInsufficientBal
	case "40768", "40009", "22001":
		return domain.ErrInvalidOrder
	case "40838", "40839":
		return domain.ErrInvalidLeverage
	case "43025":
		return domain.ErrPositionNotFound
	case "40037", "40031":
		return domain.ErrAuthFailure
	default:
		return domain.NewVenueError(env.Code, env.Msg)
	}
}

func (a *BitgetAdapter) PlaceSpotMarket(ctx context.Context, creds Credentials, symbol string, side domain.Side, quantity decimal.Decimal) (OrderResult, error) {
	payload := fmt.Sprintf(`{"symbol":%q,"side":%q,"orderType":"market","size":%q}`,
		bitgetSymbol(symbol), bitgetSide(side), quantity.String())
	body, err := a.signedRequest(ctx, creds, http.MethodPost, "/api/v2/spot/trade/place-order", payload)
	if err != nil {
		return OrderResult{}, err
	}
	return parseBitgetOrderResult(body)
}

func (a *BitgetAdapter) PlaceFuturesMarket(ctx context.Context, creds Credentials, symbol string, side domain.Side, quantity decimal.Decimal, market domain.Market) (OrderResult, error) {
	productType := "USDT-FUTURES"
	if market == domain.MarketCoinMFutures {
		productType = "COIN-FUTURES"
	}
	payload := fmt.Sprintf(`{"symbol":%q,"productType":%q,"marginMode":"crossed","marginCoin":"USDT","side":%q,"tradeSide":"open","orderType":"market","size":%q}`,
		bitgetSymbol(symbol), productType, bitgetSide(side), quantity.String())
	body, err := a.signedRequest(ctx, creds, http.MethodPost, "/api/v2/mix/order/place-order", payload)
	if err != nil {
		return OrderResult{}, err
	}
	return parseBitgetOrderResult(body)
}

func (a *BitgetAdapter) CloseFuturesPosition(ctx context.Context, creds Credentials, symbol string, side domain.Side, quantity *decimal.Decimal, market domain.Market) (OrderResult, error) {
	productType := "USDT-FUTURES"
	if market == domain.MarketCoinMFutures {
		productType = "COIN-FUTURES"
	}
	closingSide := bitgetSide(domain.SideSell)
	if side == domain.SideShort {
		closingSide = bitgetSide(domain.SideBuy)
	}

	if quantity != nil {
		payload := fmt.Sprintf(`{"symbol":%q,"productType":%q,"marginMode":"crossed","marginCoin":"USDT","side":%q,"tradeSide":"close","orderType":"market","size":%q}`,
			bitgetSymbol(symbol), productType, closingSide, quantity.String())
		body, err := a.signedRequest(ctx, creds, http.MethodPost, "/api/v2/mix/order/place-order", payload)
		if err != nil {
			return OrderResult{}, err
		}
		return parseBitgetOrderResult(body)
	}

	payload := fmt.Sprintf(`{"symbol":%q,"productType":%q,"marginCoin":"USDT","holdSide":%q}`,
		bitgetSymbol(symbol), productType, bitgetHoldSide(side))
	body, err := a.signedRequest(ctx, creds, http.MethodPost, "/api/v2/mix/order/close-positions", payload)
	if err != nil {
		return OrderResult{}, err
	}
	return parseBitgetOrderResult(body)
}

func (a *BitgetAdapter) SetLeverage(ctx context.Context, creds Credentials, symbol string, leverage int, market domain.Market) error {
	productType := "USDT-FUTURES"
	if market == domain.MarketCoinMFutures {
		productType = "COIN-FUTURES"
	}
	payload := fmt.Sprintf(`{"symbol":%q,"productType":%q,"marginCoin":"USDT","leverage":%q}`,
		bitgetSymbol(symbol), productType, strconv.Itoa(leverage))
	_, err := a.signedRequest(ctx, creds, http.MethodPost, "/api/v2/mix/account/set-leverage", payload)
	return err
}

func (a *BitgetAdapter) PlaceStopLoss(ctx context.Context, creds Credentials, symbol string, side domain.Side, quantity, stopPrice decimal.Decimal, market domain.Market) (string, error) {
	if market == domain.MarketSpot {
		return "", domain.ErrUnsupported
	}
	productType := "USDT-FUTURES"
	if market == domain.MarketCoinMFutures {
		productType = "COIN-FUTURES"
	}
	payload := fmt.Sprintf(`{"symbol":%q,"productType":%q,"marginCoin":"USDT","planType":"pos_loss","triggerPrice":%q,"holdSide":%q,"size":%q}`,
		bitgetSymbol(symbol), productType, stopPrice.String(), bitgetHoldSide(side), quantity.String())
	body, err := a.signedRequest(ctx, creds, http.MethodPost, "/api/v2/mix/order/place-tpsl-order", payload)
	if err != nil {
		return "", err
	}
	var env bitgetEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return "", fmt.Errorf("decoding tpsl response: %w", err)
	}
	var data struct {
		OrderID string `json:"orderId"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return "", fmt.Errorf("decoding tpsl order id: %w", err)
	}
	return data.OrderID, nil
}

func (a *BitgetAdapter) GetTicker(ctx context.Context, symbol string, market domain.Market) (decimal.Decimal, error) {
	path := "/api/v2/spot/market/tickers?symbol=" + bitgetSymbol(symbol)
	if market != domain.MarketSpot {
		productType := "USDT-FUTURES"
		if market == domain.MarketCoinMFutures {
			productType = "COIN-FUTURES"
		}
		path = fmt.Sprintf("/api/v2/mix/market/ticker?symbol=%s&productType=%s", bitgetSymbol(symbol), productType)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.base+path, nil)
	if err != nil {
		return decimal.Zero, err
	}
	body, status, err := doRequest(req)
	if err != nil {
		return decimal.Zero, err
	}
	if err := classifyBitgetStatus(status, body); err != nil {
		return decimal.Zero, err
	}

	var env bitgetEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return decimal.Zero, fmt.Errorf("decoding ticker envelope: %w", err)
	}
	var rows []struct {
		LastPr string `json:"lastPr"`
	}
	if err := json.Unmarshal(env.Data, &rows); err != nil || len(rows) == 0 {
		return decimal.Zero, fmt.Errorf("decoding ticker rows: %w", err)
	}
	return decimal.NewFromString(rows[0].LastPr)
}

func (a *BitgetAdapter) GetBalances(ctx context.Context, creds Credentials) ([]Balance, error) {
	body, err := a.signedRequest(ctx, creds, http.MethodGet, "/api/v2/spot/account/assets", "")
	if err != nil {
		return nil, err
	}
	var env bitgetEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decoding balance envelope: %w", err)
	}
	var rows []struct {
		Coin     string `json:"coin"`
		Available string `json:"available"`
		Frozen    string `json:"frozen"`
	}
	if err := json.Unmarshal(env.Data, &rows); err != nil {
		return nil, fmt.Errorf("decoding balance rows: %w", err)
	}

	var balances []Balance
	for _, row := range rows {
		free, _ := decimal.NewFromString(row.Available)
		locked, _ := decimal.NewFromString(row.Frozen)
		if free.IsZero() && locked.IsZero() {
			continue
		}
		balances = append(balances, Balance{Asset: row.Coin, Free: free, Locked: locked})
	}
	return balances, nil
}

func (a *BitgetAdapter) GetOpenPositionsOfTrader(ctx context.Context, venueUID string, market domain.Market) ([]domain.PositionSample, error) {
	return nil, domain.ErrUnsupported
}

func (a *BitgetAdapter) GetAccountPositions(ctx context.Context, creds Credentials, market domain.Market) ([]domain.PositionSample, error) {
	if market == domain.MarketSpot {
		return nil, nil
	}
	productType := "USDT-FUTURES"
	if market == domain.MarketCoinMFutures {
		productType = "COIN-FUTURES"
	}
	path := "/api/v2/mix/position/all-position?productType=" + productType + "&marginCoin=USDT"
	body, err := a.signedRequest(ctx, creds, http.MethodGet, path, "")
	if err != nil {
		return nil, err
	}
	var env bitgetEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decoding positions envelope: %w", err)
	}
	var rows []struct {
		Symbol       string `json:"symbol"`
		HoldSide     string `json:"holdSide"`
		Total        string `json:"total"`
		OpenPriceAvg string `json:"openPriceAvg"`
		Leverage     string `json:"leverage"`
	}
	if err := json.Unmarshal(env.Data, &rows); err != nil {
		return nil, fmt.Errorf("decoding position rows: %w", err)
	}

	samples := make([]domain.PositionSample, 0, len(rows))
	for _, r := range rows {
		qty, _ := decimal.NewFromString(r.Total)
		if qty.IsZero() {
			continue
		}
		entry, _ := decimal.NewFromString(r.OpenPriceAvg)
		lev, _ := strconv.Atoi(r.Leverage)
		side := domain.SideLong
		if r.HoldSide == "short" {
			side = domain.SideShort
		}
		samples = append(samples, domain.PositionSample{
			Symbol: r.Symbol, Market: market, Side: side,
			Quantity: qty, EntryPrice: entry, Leverage: &lev,
		})
	}
	return samples, nil
}

func (a *BitgetAdapter) GetLeaderboard(ctx context.Context, market domain.Market, page int) ([]TraderSummary, error) {
	return nil, domain.ErrUnsupported
}

func parseBitgetOrderResult(body []byte) (OrderResult, error) {
	var env bitgetEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return OrderResult{}, fmt.Errorf("decoding order envelope: %w", err)
	}
	var data struct {
		OrderID string `json:"orderId"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return OrderResult{}, fmt.Errorf("decoding order id: %w", err)
	}
	// Bitget's place-order response doesn't include the fill; the engine
	// records the requested quantity, and the ticker price it sized the
	// order with, as the fill of an opening trade.
	return OrderResult{VenueOrderID: data.OrderID, RawTimestamp: time.Now()}, nil
}
