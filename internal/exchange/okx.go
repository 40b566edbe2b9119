package exchange

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"context"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/whalecopy/internal/domain"
)

// OKXAdapter talks to OKX's unified v5 REST API (spot and USDT-margined
// swaps). Auth follows OKX's passphrase + base64 HMAC-SHA256 scheme,
// signed with hmacSHA256Base64.
type OKXAdapter struct {
	base string
}

func NewOKXAdapter() *OKXAdapter {
	return &OKXAdapter{base: "https://www.okx.com"}
}

func (a *OKXAdapter) Venue() domain.Venue { return domain.VenueOKX }

// okxSymbol renders the venue-neutral "BTC-USDT" form into OKX's instId,
// appending -SWAP for USD-M futures.
func okxSymbol(symbol string, market domain.Market) string {
	s := strings.ToUpper(symbol)
	if !strings.Contains(s, "-") {
		// best-effort split on the common quote assets
		for _, quote := range []string{"USDT", "USDC", "USD"} {
			if strings.HasSuffix(s, quote) && len(s) > len(quote) {
				s = s[:len(s)-len(quote)] + "-" + quote
				break
			}
		}
	}
	if market != domain.MarketSpot {
		s += "-SWAP"
	}
	return s
}

func okxSide(side domain.Side) string {
	if side == domain.SideLong || side == domain.SideBuy {
		return "buy"
	}
	return "sell"
}

func (a *OKXAdapter) signedRequest(ctx context.Context, creds Credentials, method, path, body string) ([]byte, error) {
	ts := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
	prehash := ts + method + path + body
	sign := hmacSHA256Base64(creds.APISecret, prehash)

	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}

	req, err := http.NewRequestWithContext(ctx, method, a.base+path, reader)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("OK-ACCESS-KEY", creds.APIKey)
	req.Header.Set("OK-ACCESS-SIGN", sign)
	req.Header.Set("OK-ACCESS-TIMESTAMP", ts)
	req.Header.Set("OK-ACCESS-PASSPHRASE", creds.Passphrase)

	respBody, status, err := doRequest(req)
	if err != nil {
		return nil, err
	}
	return respBody, classifyOKXStatus(status, respBody)
}

type okxEnvelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func classifyOKXStatus(status int, body []byte) error {
	if status >= 500 {
		return domain.ErrRetryableNetwork
	}
	if status == 429 {
		return domain.NewRateLimited(0)
	}
	if status == 401 {
		return domain.ErrAuthFailure
	}

	var env okxEnvelope
	_ = json.Unmarshal(body, &env)
	switch env.Code {
	case "", "0":
		return nil
	case "51008", "51004":
		return domain.ErrInsufficientBal
	case "51000", "51006", "51010":
		return domain.ErrInvalidOrder
	case "51840", "51841":
		return domain.ErrInvalidLeverage
	case "51603":
		return domain.ErrPositionNotFound
	case "50113", "50114":
		return domain.ErrAuthFailure
	default:
		return domain.NewVenueError(env.Code, env.Msg)
	}
}

func (a *OKXAdapter) PlaceSpotMarket(ctx context.Context, creds Credentials, symbol string, side domain.Side, quantity decimal.Decimal) (OrderResult, error) {
	return a.placeOrder(ctx, creds, symbol, domain.MarketSpot, side, quantity, false)
}

func (a *OKXAdapter) PlaceFuturesMarket(ctx context.Context, creds Credentials, symbol string, side domain.Side, quantity decimal.Decimal, market domain.Market) (OrderResult, error) {
	return a.placeOrder(ctx, creds, symbol, market, side, quantity, false)
}

func (a *OKXAdapter) CloseFuturesPosition(ctx context.Context, creds Credentials, symbol string, side domain.Side, quantity *decimal.Decimal, market domain.Market) (OrderResult, error) {
	closingSide := domain.SideSell
	if side == domain.SideShort {
		closingSide = domain.SideBuy
	}
	if quantity != nil {
		return a.placeOrder(ctx, creds, symbol, market, closingSide, *quantity, true)
	}

	payload := fmt.Sprintf(`{"instId":%q,"mgnMode":"cross"}`, okxSymbol(symbol, market))
	body, err := a.signedRequest(ctx, creds, http.MethodPost, "/api/v5/trade/close-position", payload)
	if err != nil {
		return OrderResult{}, err
	}
	return parseOKXOrderResult(body)
}

func (a *OKXAdapter) placeOrder(ctx context.Context, creds Credentials, symbol string, market domain.Market, side domain.Side, quantity decimal.Decimal, reduceOnly bool) (OrderResult, error) {
	tdMode := "cash"
	if market != domain.MarketSpot {
		tdMode = "cross"
	}
	payload := fmt.Sprintf(`{"instId":%q,"tdMode":%q,"side":%q,"ordType":"market","sz":%q,"reduceOnly":%t}`,
		okxSymbol(symbol, market), tdMode, okxSide(side), quantity.String(), reduceOnly)

	body, err := a.signedRequest(ctx, creds, http.MethodPost, "/api/v5/trade/order", payload)
	if err != nil {
		return OrderResult{}, err
	}
	return parseOKXOrderResult(body)
}

func (a *OKXAdapter) SetLeverage(ctx context.Context, creds Credentials, symbol string, leverage int, market domain.Market) error {
	payload := fmt.Sprintf(`{"instId":%q,"lever":%q,"mgnMode":"cross"}`, okxSymbol(symbol, market), strconv.Itoa(leverage))
	_, err := a.signedRequest(ctx, creds, http.MethodPost, "/api/v5/account/set-leverage", payload)
	return err
}

func (a *OKXAdapter) PlaceStopLoss(ctx context.Context, creds Credentials, symbol string, side domain.Side, quantity, stopPrice decimal.Decimal, market domain.Market) (string, error) {
	if market == domain.MarketSpot {
		return "", domain.ErrUnsupported
	}
	closingSide := okxSide(domain.SideSell)
	if side == domain.SideShort {
		closingSide = okxSide(domain.SideBuy)
	}
	payload := fmt.Sprintf(`{"instId":%q,"tdMode":"cross","side":%q,"ordType":"conditional","sz":%q,"slTriggerPx":%q,"slOrdPx":"-1"}`,
		okxSymbol(symbol, market), closingSide, quantity.String(), stopPrice.String())

	body, err := a.signedRequest(ctx, creds, http.MethodPost, "/api/v5/trade/order-algo", payload)
	if err != nil {
		return "", err
	}
	var env okxEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return "", fmt.Errorf("decoding algo order response: %w", err)
	}
	var rows []struct {
		AlgoID string `json:"algoId"`
	}
	if err := json.Unmarshal(env.Data, &rows); err != nil || len(rows) == 0 {
		return "", fmt.Errorf("decoding algo order id: %w", err)
	}
	return rows[0].AlgoID, nil
}

func (a *OKXAdapter) GetTicker(ctx context.Context, symbol string, market domain.Market) (decimal.Decimal, error) {
	instID := okxSymbol(symbol, market)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.base+"/api/v5/market/ticker?instId="+instID, nil)
	if err != nil {
		return decimal.Zero, err
	}
	body, status, err := doRequest(req)
	if err != nil {
		return decimal.Zero, err
	}
	if err := classifyOKXStatus(status, body); err != nil {
		return decimal.Zero, err
	}

	var env okxEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return decimal.Zero, fmt.Errorf("decoding ticker envelope: %w", err)
	}
	var rows []struct {
		Last string `json:"last"`
	}
	if err := json.Unmarshal(env.Data, &rows); err != nil || len(rows) == 0 {
		return decimal.Zero, fmt.Errorf("decoding ticker rows: %w", err)
	}
	return decimal.NewFromString(rows[0].Last)
}

func (a *OKXAdapter) GetBalances(ctx context.Context, creds Credentials) ([]Balance, error) {
	body, err := a.signedRequest(ctx, creds, http.MethodGet, "/api/v5/account/balance", "")
	if err != nil {
		return nil, err
	}
	var env okxEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decoding balance envelope: %w", err)
	}
	var rows []struct {
		Details []struct {
			Ccy      string `json:"ccy"`
			AvailBal string `json:"availBal"`
			FrozenBal string `json:"frozenBal"`
		} `json:"details"`
	}
	if err := json.Unmarshal(env.Data, &rows); err != nil {
		return nil, fmt.Errorf("decoding balance rows: %w", err)
	}

	var balances []Balance
	for _, row := range rows {
		for _, d := range row.Details {
			free, _ := decimal.NewFromString(d.AvailBal)
			locked, _ := decimal.NewFromString(d.FrozenBal)
			if free.IsZero() && locked.IsZero() {
				continue
			}
			balances = append(balances, Balance{Asset: d.Ccy, Free: free, Locked: locked})
		}
	}
	return balances, nil
}

// GetOpenPositionsOfTrader and GetLeaderboard have no public OKX
// equivalent for arbitrary trader UIDs outside the jockey/copy-trading
// program; whales on this venue are onboarded as ONCHAIN_WALLET or
// CEX_TRADER records seeded by the leaderboard of another venue, per
// the adapter boundary's "each venue owns what it can actually expose".
func (a *OKXAdapter) GetOpenPositionsOfTrader(ctx context.Context, venueUID string, market domain.Market) ([]domain.PositionSample, error) {
	return nil, domain.ErrUnsupported
}

func (a *OKXAdapter) GetAccountPositions(ctx context.Context, creds Credentials, market domain.Market) ([]domain.PositionSample, error) {
	if market == domain.MarketSpot {
		return nil, nil
	}
	body, err := a.signedRequest(ctx, creds, http.MethodGet, "/api/v5/account/positions?instType=SWAP", "")
	if err != nil {
		return nil, err
	}
	var env okxEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decoding positions envelope: %w", err)
	}
	var rows []struct {
		InstID   string `json:"instId"`
		PosSide  string `json:"posSide"`
		Pos      string `json:"pos"`
		AvgPx    string `json:"avgPx"`
		Lever    string `json:"lever"`
	}
	if err := json.Unmarshal(env.Data, &rows); err != nil {
		return nil, fmt.Errorf("decoding position rows: %w", err)
	}

	samples := make([]domain.PositionSample, 0, len(rows))
	for _, r := range rows {
		qty, _ := decimal.NewFromString(r.Pos)
		if qty.IsZero() {
			continue
		}
		entry, _ := decimal.NewFromString(r.AvgPx)
		lev, _ := strconv.Atoi(r.Lever)
		side := domain.SideLong
		if r.PosSide == "short" || qty.IsNegative() {
			side = domain.SideShort
			qty = qty.Abs()
		}
		samples = append(samples, domain.PositionSample{
			Symbol: r.InstID, Market: market, Side: side,
			Quantity: qty, EntryPrice: entry, Leverage: &lev,
		})
	}
	return samples, nil
}

func (a *OKXAdapter) GetLeaderboard(ctx context.Context, market domain.Market, page int) ([]TraderSummary, error) {
	return nil, domain.ErrUnsupported
}

func parseOKXOrderResult(body []byte) (OrderResult, error) {
	var env okxEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return OrderResult{}, fmt.Errorf("decoding order envelope: %w", err)
	}
	var rows []struct {
		OrdID   string `json:"ordId"`
		FillPx  string `json:"fillPx"`
		FillSz  string `json:"fillSz"`
		Fee     string `json:"fee"`
		SCode   string `json:"sCode"`
		SMsg    string `json:"sMsg"`
	}
	if err := json.Unmarshal(env.Data, &rows); err != nil || len(rows) == 0 {
		return OrderResult{}, fmt.Errorf("decoding order rows: %w", err)
	}
	row := rows[0]
	if row.SCode != "" && row.SCode != "0" {
		return OrderResult{}, domain.NewVenueError(row.SCode, row.SMsg)
	}

	price, _ := decimal.NewFromString(row.FillPx)
	qty, _ := decimal.NewFromString(row.FillSz)
	var fee *decimal.Decimal
	if row.Fee != "" {
		f, err := decimal.NewFromString(row.Fee)
		if err == nil {
			f = f.Abs()
			fee = &f
		}
	}

	return OrderResult{
		VenueOrderID:   row.OrdID,
		FilledPrice:    price,
		FilledQuantity: qty,
		Fee:            fee,
		RawTimestamp:   time.Now(),
	}, nil
}
