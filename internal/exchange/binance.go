package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/whalecopy/internal/domain"
)

// BinanceAdapter talks to Binance spot and USD-M/COIN-M futures REST
// APIs, signing requests with Binance's query-string HMAC-SHA256
// scheme.
type BinanceAdapter struct {
	spotBase    string
	futuresBase string
}

// NewBinanceAdapter constructs the adapter with Binance's production REST
// hosts.
func NewBinanceAdapter() *BinanceAdapter {
	return &BinanceAdapter{
		spotBase:    "https://api.binance.com",
		futuresBase: "https://fapi.binance.com",
	}
}

func (a *BinanceAdapter) Venue() domain.Venue { return domain.VenueBinance }

func (a *BinanceAdapter) baseFor(market domain.Market) string {
	if market == domain.MarketSpot {
		return a.spotBase
	}
	return a.futuresBase
}

// binanceSymbol strips the hyphen some venue-neutral callers use
// ("BTC-USDT") down to Binance's concatenated form ("BTCUSDT") — the
// symbol normalization the adapter boundary owns.
func binanceSymbol(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(symbol, "-", ""))
}

func binanceSide(side domain.Side) string {
	switch side {
	case domain.SideLong, domain.SideBuy:
		return "BUY"
	default:
		return "SELL"
	}
}

// binancePositionSide maps the internal Long/Short tag to Binance futures'
// one-way mode positionSide; hedge mode is out of scope for this adapter.
func binancePositionSide(side domain.Side) string {
	if side == domain.SideLong || side == domain.SideBuy {
		return "LONG"
	}
	return "SHORT"
}

func (a *BinanceAdapter) signedRequest(ctx context.Context, creds Credentials, method, base, path string, params url.Values) ([]byte, error) {
	if params == nil {
		params = url.Values{}
	}
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	params.Set("recvWindow", "5000")

	query := params.Encode()
	signature := hmacSHA256Hex(creds.APISecret, query)
	query = query + "&signature=" + signature

	reqURL := base + path + "?" + query
	req, err := http.NewRequestWithContext(ctx, method, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("X-MBX-APIKEY", creds.APIKey)

	body, status, err := doRequest(req)
	if err != nil {
		return nil, err
	}
	return body, classifyBinanceStatus(status, body)
}

type binanceErrorBody struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// classifyBinanceStatus maps Binance's HTTP status + error code onto the
// shared adapter failure taxonomy.
func classifyBinanceStatus(status int, body []byte) error {
	if status < 300 {
		return nil
	}
	if status == 429 || status == 418 {
		return domain.NewRateLimited(retryAfterFromBody(body))
	}
	if status >= 500 {
		return domain.ErrRetryableNetwork
	}
	if status == 401 {
		return domain.ErrAuthFailure
	}

	var eb binanceErrorBody
	_ = json.Unmarshal(body, &eb)
	switch eb.Code {
	case -2010, -2019:
		return domain.ErrInsufficientBal
	case -1102, -1013, -1111, -4003:
		return domain.ErrInvalidOrder
	case -4028, -4161:
		return domain.ErrInvalidLeverage
	case -2011, -2013:
		return domain.ErrPositionNotFound
	case -2014, -2015:
		return domain.ErrAuthFailure
	default:
		return domain.NewVenueError(strconv.Itoa(eb.Code), eb.Msg)
	}
}

func retryAfterFromBody([]byte) int { return 0 }

func (a *BinanceAdapter) PlaceSpotMarket(ctx context.Context, creds Credentials, symbol string, side domain.Side, quantity decimal.Decimal) (OrderResult, error) {
	params := url.Values{}
	params.Set("symbol", binanceSymbol(symbol))
	params.Set("side", binanceSide(side))
	params.Set("type", "MARKET")
	params.Set("quantity", quantity.String())

	body, err := a.signedRequest(ctx, creds, http.MethodPost, a.spotBase, "/api/v3/order", params)
	if err != nil {
		return OrderResult{}, err
	}
	return parseBinanceOrderResponse(body)
}

func (a *BinanceAdapter) PlaceFuturesMarket(ctx context.Context, creds Credentials, symbol string, side domain.Side, quantity decimal.Decimal, market domain.Market) (OrderResult, error) {
	params := url.Values{}
	params.Set("symbol", binanceSymbol(symbol))
	params.Set("side", binanceSide(side))
	params.Set("type", "MARKET")
	params.Set("quantity", quantity.String())

	body, err := a.signedRequest(ctx, creds, http.MethodPost, a.baseFor(market), "/fapi/v1/order", params)
	if err != nil {
		return OrderResult{}, err
	}
	return parseBinanceOrderResponse(body)
}

func (a *BinanceAdapter) CloseFuturesPosition(ctx context.Context, creds Credentials, symbol string, side domain.Side, quantity *decimal.Decimal, market domain.Market) (OrderResult, error) {
	params := url.Values{}
	params.Set("symbol", binanceSymbol(symbol))
	// Closing a LONG means selling, closing a SHORT means buying.
	closingSide := "SELL"
	if side == domain.SideShort {
		closingSide = "BUY"
	}
	params.Set("side", closingSide)
	params.Set("type", "MARKET")
	if quantity != nil {
		params.Set("quantity", quantity.String())
	} else {
		params.Set("closePosition", "true")
	}

	body, err := a.signedRequest(ctx, creds, http.MethodPost, a.baseFor(market), "/fapi/v1/order", params)
	if err != nil {
		return OrderResult{}, err
	}
	return parseBinanceOrderResponse(body)
}

func (a *BinanceAdapter) SetLeverage(ctx context.Context, creds Credentials, symbol string, leverage int, market domain.Market) error {
	params := url.Values{}
	params.Set("symbol", binanceSymbol(symbol))
	params.Set("leverage", strconv.Itoa(leverage))
	_, err := a.signedRequest(ctx, creds, http.MethodPost, a.baseFor(market), "/fapi/v1/leverage", params)
	return err
}

func (a *BinanceAdapter) PlaceStopLoss(ctx context.Context, creds Credentials, symbol string, side domain.Side, quantity, stopPrice decimal.Decimal, market domain.Market) (string, error) {
	if market == domain.MarketSpot {
		return "", domain.ErrUnsupported
	}
	params := url.Values{}
	params.Set("symbol", binanceSymbol(symbol))
	closingSide := "SELL"
	if side == domain.SideShort {
		closingSide = "BUY"
	}
	params.Set("side", closingSide)
	params.Set("type", "STOP_MARKET")
	params.Set("quantity", quantity.String())
	params.Set("stopPrice", stopPrice.String())

	body, err := a.signedRequest(ctx, creds, http.MethodPost, a.baseFor(market), "/fapi/v1/order", params)
	if err != nil {
		return "", err
	}
	res, err := parseBinanceOrderResponse(body)
	if err != nil {
		return "", err
	}
	return res.VenueOrderID, nil
}

func (a *BinanceAdapter) GetTicker(ctx context.Context, symbol string, market domain.Market) (decimal.Decimal, error) {
	path := "/api/v3/ticker/price"
	if market != domain.MarketSpot {
		path = "/fapi/v1/ticker/price"
	}
	reqURL := a.baseFor(market) + path + "?symbol=" + binanceSymbol(symbol)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return decimal.Zero, err
	}
	body, status, err := doRequest(req)
	if err != nil {
		return decimal.Zero, err
	}
	if err := classifyBinanceStatus(status, body); err != nil {
		return decimal.Zero, err
	}

	var raw struct {
		Price string `json:"price"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return decimal.Zero, fmt.Errorf("decoding ticker: %w", err)
	}
	return decimal.NewFromString(raw.Price)
}

func (a *BinanceAdapter) GetBalances(ctx context.Context, creds Credentials) ([]Balance, error) {
	body, err := a.signedRequest(ctx, creds, http.MethodGet, a.spotBase, "/api/v3/account", nil)
	if err != nil {
		return nil, err
	}
	var raw struct {
		Balances []struct {
			Asset  string `json:"asset"`
			Free   string `json:"free"`
			Locked string `json:"locked"`
		} `json:"balances"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decoding account: %w", err)
	}

	balances := make([]Balance, 0, len(raw.Balances))
	for _, b := range raw.Balances {
		free, _ := decimal.NewFromString(b.Free)
		locked, _ := decimal.NewFromString(b.Locked)
		if free.IsZero() && locked.IsZero() {
			continue
		}
		balances = append(balances, Balance{Asset: b.Asset, Free: free, Locked: locked})
	}
	return balances, nil
}

// GetOpenPositionsOfTrader reads Binance's public Leaderboard position
// API. An HTTP 403 and a JSON body whose success flag is false both
// return ErrAuthFailure, so this adapter checks the status code and the
// payload alike.
func (a *BinanceAdapter) GetOpenPositionsOfTrader(ctx context.Context, venueUID string, market domain.Market) ([]domain.PositionSample, error) {
	reqURL := "https://www.binance.com/bapi/futures/v1/public/future/leaderboard/getOtherPosition"
	payload := fmt.Sprintf(`{"encryptedUid":%q,"tradeType":"PERPETUAL"}`, venueUID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, strings.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	body, status, err := doRequest(req)
	if err != nil {
		return nil, err
	}
	if status == http.StatusForbidden {
		return nil, domain.ErrAuthFailure
	}
	if status >= 500 {
		return nil, domain.ErrRetryableNetwork
	}

	var raw struct {
		Success bool `json:"success"`
		Data    struct {
			OtherPositionRetList []struct {
				Symbol       string `json:"symbol"`
				EntryPrice   string `json:"entryPrice"`
				Amount       string `json:"amount"`
				Leverage     int    `json:"leverage"`
				Yield        string `json:"yellow"`
				YieldPercent string `json:"roe"`
			} `json:"otherPositionRetList"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decoding leaderboard positions: %w", err)
	}
	if !raw.Success {
		return nil, domain.ErrAuthFailure
	}

	samples := make([]domain.PositionSample, 0, len(raw.Data.OtherPositionRetList))
	for _, p := range raw.Data.OtherPositionRetList {
		qty, _ := decimal.NewFromString(p.Amount)
		entry, _ := decimal.NewFromString(p.EntryPrice)
		side := domain.SideLong
		if qty.IsNegative() {
			side = domain.SideShort
			qty = qty.Abs()
		}
		lev := p.Leverage
		var roe *decimal.Decimal
		if r, err := decimal.NewFromString(p.YieldPercent); err == nil {
			roe = &r
		}
		samples = append(samples, domain.PositionSample{
			Symbol:     p.Symbol,
			Market:     market,
			Side:       side,
			Quantity:   qty,
			EntryPrice: entry,
			Leverage:   &lev,
			ROE:        roe,
		})
	}
	return samples, nil
}

func (a *BinanceAdapter) GetLeaderboard(ctx context.Context, market domain.Market, page int) ([]TraderSummary, error) {
	reqURL := "https://www.binance.com/bapi/futures/v1/public/future/leaderboard/getLeaderboardRank"
	payload := fmt.Sprintf(`{"tradeType":"PERPETUAL","statisticsType":"ROI","periodType":"WEEKLY","pageNum":%d,"pageSize":20}`, page)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, strings.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	body, status, err := doRequest(req)
	if err != nil {
		return nil, err
	}
	if status >= 500 {
		return nil, domain.ErrRetryableNetwork
	}

	var raw struct {
		Data []struct {
			EncryptedUid string `json:"encryptedUid"`
			NickName     string `json:"nickName"`
			Value        string `json:"value"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decoding leaderboard: %w", err)
	}

	traders := make([]TraderSummary, 0, len(raw.Data))
	for _, t := range raw.Data {
		score, _ := decimal.NewFromString(t.Value)
		traders = append(traders, TraderSummary{VenueUID: t.EncryptedUid, DisplayName: t.NickName, Score: score})
	}
	return traders, nil
}

// GetAccountPositions reads the caller's own USD-M futures positions via
// the authenticated positionRisk endpoint, for the monitor's external
// reconciliation task. SPOT has no venue-side position concept, so it
// returns an empty slice.
func (a *BinanceAdapter) GetAccountPositions(ctx context.Context, creds Credentials, market domain.Market) ([]domain.PositionSample, error) {
	if market == domain.MarketSpot {
		return nil, nil
	}
	path := "/fapi/v2/positionRisk"
	if market == domain.MarketCoinMFutures {
		path = "/dapi/v1/positionRisk"
	}
	body, err := a.signedRequest(ctx, creds, http.MethodGet, a.futuresBase, path, nil)
	if err != nil {
		return nil, err
	}

	var raw []struct {
		Symbol           string `json:"symbol"`
		PositionAmt      string `json:"positionAmt"`
		EntryPrice       string `json:"entryPrice"`
		Leverage         string `json:"leverage"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decoding position risk: %w", err)
	}

	samples := make([]domain.PositionSample, 0, len(raw))
	for _, p := range raw {
		qty, _ := decimal.NewFromString(p.PositionAmt)
		if qty.IsZero() {
			continue
		}
		entry, _ := decimal.NewFromString(p.EntryPrice)
		lev, _ := strconv.Atoi(p.Leverage)
		side := domain.SideLong
		if qty.IsNegative() {
			side = domain.SideShort
			qty = qty.Abs()
		}
		samples = append(samples, domain.PositionSample{
			Symbol: p.Symbol, Market: market, Side: side,
			Quantity: qty, EntryPrice: entry, Leverage: &lev,
		})
	}
	return samples, nil
}

func parseBinanceOrderResponse(body []byte) (OrderResult, error) {
	var raw struct {
		OrderID       int64  `json:"orderId"`
		Status        string `json:"status"`
		ExecutedQty   string `json:"executedQty"`
		AvgPrice      string `json:"avgPrice"`
		CumQuote      string `json:"cummulativeQuoteQty"`
		TransactTime  int64  `json:"transactTime"`
		Fills         []struct {
			Price    string `json:"price"`
			Qty      string `json:"qty"`
			Commission string `json:"commission"`
		} `json:"fills"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return OrderResult{}, fmt.Errorf("decoding order response: %w", err)
	}

	execQty, _ := decimal.NewFromString(raw.ExecutedQty)
	avgPrice, _ := decimal.NewFromString(raw.AvgPrice)
	if avgPrice.IsZero() && len(raw.Fills) > 0 {
		// Spot fills don't report avgPrice directly; derive it from the
		// cumulative quote quantity over the filled quantity.
		cumQuote, _ := decimal.NewFromString(raw.CumQuote)
		if !execQty.IsZero() {
			avgPrice = cumQuote.Div(execQty)
		}
	}

	var fee *decimal.Decimal
	if len(raw.Fills) > 0 {
		total := decimal.Zero
		for _, f := range raw.Fills {
			c, _ := decimal.NewFromString(f.Commission)
			total = total.Add(c)
		}
		fee = &total
	}

	ts := time.Now()
	if raw.TransactTime > 0 {
		ts = time.UnixMilli(raw.TransactTime)
	}

	return OrderResult{
		VenueOrderID:   strconv.FormatInt(raw.OrderID, 10),
		FilledPrice:    avgPrice,
		FilledQuantity: execQty,
		Fee:            fee,
		RawTimestamp:   ts,
	}, nil
}
