package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"

	"autoTrader/internal/domain"
	"autoTrader/internal/ports"
)

const (
	// Base URLs
	baseURLProduction = "https://fapi.binance.com"
	baseURLTestnet    = "https://testnet.binancefuture.com"

	maxKlinesPerRequest = 1500
	// decimal places sent for quantities and prices
	wirePrecision = 8
)

// api is the slice of the futures REST client this adapter uses.
type api interface {
	klines(ctx context.Context, symbol, interval string, limit int, end time.Time) ([]*futures.Kline, error)
	createOrder(ctx context.Context, req orderParams) (*futures.CreateOrderResponse, error)
	getOrder(ctx context.Context, symbol, clientOrderID string) (*futures.Order, error)
	positionRisk(ctx context.Context, symbol string) ([]*futures.PositionRisk, error)
	account(ctx context.Context) (*futures.Account, error)
}

type orderParams struct {
	Symbol        string
	Side          futures.SideType
	Type          futures.OrderType
	Quantity      string
	ClientOrderID string
}

// Client implements ports.MarketData and ports.Brokerage on Binance USD-M futures.
type Client struct {
	api      api
	logger   ports.Logger
	interval string
	asset    string
	now      func() time.Time
}

// Config holds configuration specific to the Binance client adapter.
type Config struct {
	APIKey     string
	SecretKey  string
	UseTestnet bool
	Interval   string // kline interval used for price history, e.g. "15m" or "1d"
	QuoteAsset string // balance currency, e.g. "USDT"
	Logger     ports.Logger
}

// New creates a new Binance client adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		cfg.Logger.Warn(context.Background(), "APIKey or SecretKey is empty. Client will only work for public endpoints.")
	}

	client := futures.NewClient(cfg.APIKey, cfg.SecretKey)
	if cfg.UseTestnet {
		client.BaseURL = baseURLTestnet
	} else {
		client.BaseURL = baseURLProduction
	}
	cfg.Logger.Info(context.Background(), "Binance client configured", map[string]interface{}{"baseURL": client.BaseURL, "testnet": cfg.UseTestnet})
	return newClient(&futuresAPI{client: client}, cfg), nil
}

func newClient(a api, cfg Config) *Client {
	interval := cfg.Interval
	if interval == "" {
		interval = "15m"
	}
	asset := cfg.QuoteAsset
	if asset == "" {
		asset = "USDT"
	}
	return &Client{api: a, logger: cfg.Logger, interval: interval, asset: asset, now: time.Now}
}

// --- MarketData Implementation ---

// GetPriceHistory returns the last lookback closed bars, oldest first.
// A bar still open at request time is dropped.
func (c *Client) GetPriceHistory(ctx context.Context, instrument string, lookback int) ([]domain.PriceBar, error) {
	op := "GetPriceHistory"
	if lookback <= 0 {
		return nil, fmt.Errorf("%s: lookback must be positive: %w", op, ports.ErrInvalidRequest)
	}

	now := c.now()
	var bars []domain.PriceBar
	end := now
	for len(bars) < lookback {
		// one extra bar in case the newest is still open
		want := min(lookback-len(bars)+1, maxKlinesPerRequest)
		klines, err := c.api.klines(ctx, instrument, c.interval, want, end)
		if err != nil {
			err = c.handleError(ctx, err, op)
			if errors.Is(err, ports.ErrInvalidRequest) {
				return nil, fmt.Errorf("%w: %w", ports.ErrDataUnavailable, err)
			}
			return nil, err
		}
		if len(klines) == 0 {
			break
		}
		chunk := make([]domain.PriceBar, 0, len(klines))
		for _, k := range klines {
			if time.UnixMilli(k.CloseTime).After(now) {
				continue
			}
			bar, err := translateKline(k, instrument)
			if err != nil {
				return nil, c.handleError(ctx, fmt.Errorf("failed to translate kline: %w", err), op)
			}
			chunk = append(chunk, bar)
		}
		bars = append(chunk, bars...)
		if len(klines) < want {
			break
		}
		end = time.UnixMilli(klines[0].OpenTime - 1)
	}

	if len(bars) == 0 {
		return nil, fmt.Errorf("%s: no bars for %s: %w", op, instrument, ports.ErrDataUnavailable)
	}
	if len(bars) > lookback {
		bars = bars[len(bars)-lookback:]
	}
	return bars, nil
}

// --- Brokerage Implementation ---

// SubmitOrder places an order tagged with the client reference. When the
// exchange reports the reference as already used, the existing order is
// looked up and reported instead.
func (c *Client) SubmitOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderOutcome, error) {
	op := "SubmitOrder"
	params := orderParams{
		Symbol:        req.Instrument,
		Side:          futures.SideType(req.Side),
		Type:          futures.OrderTypeMarket,
		Quantity:      decimal.NewFromFloat(req.Quantity).Round(wirePrecision).String(),
		ClientOrderID: clientOrderID(req.ClientReference),
	}

	resp, err := c.api.createOrder(ctx, params)
	if err != nil {
		var apiErr *common.APIError
		if errors.As(err, &apiErr) && apiErr.Code == -4116 {
			c.logger.Debug(ctx, "Client order id already used, looking up existing order", map[string]interface{}{"clientReference": req.ClientReference})
			existing, lookupErr := c.api.getOrder(ctx, params.Symbol, params.ClientOrderID)
			if lookupErr != nil {
				return domain.OrderOutcome{}, c.handleError(ctx, lookupErr, op)
			}
			return translateOrder(req, string(existing.Status), existing.ExecutedQuantity, existing.AvgPrice, c.now()), nil
		}
		return domain.OrderOutcome{}, c.handleError(ctx, err, op)
	}

	outcome := translateOrder(req, string(resp.Status), resp.ExecutedQuantity, resp.AvgPrice, c.now())
	c.logger.Info(ctx, op+" successful", map[string]interface{}{
		"symbol": req.Instrument, "side": req.Side, "quantity": params.Quantity,
		"orderID": resp.OrderID, "status": outcome.Status, "avgPrice": outcome.FilledPrice,
	})
	return outcome, nil
}

// GetPosition returns the exchange's net position; flat when none.
func (c *Client) GetPosition(ctx context.Context, instrument string) (domain.Position, error) {
	op := "GetPosition"
	positions, err := c.api.positionRisk(ctx, instrument)
	if err != nil {
		return domain.Position{}, c.handleError(ctx, err, op)
	}
	pos := domain.Position{Instrument: instrument, LastUpdated: c.now()}
	for _, p := range positions {
		if p == nil || p.Symbol != instrument {
			continue
		}
		qty, err := strconv.ParseFloat(p.PositionAmt, 64)
		if err != nil {
			return domain.Position{}, c.handleError(ctx, fmt.Errorf("could not parse position amount '%s': %w", p.PositionAmt, err), op)
		}
		entry, _ := strconv.ParseFloat(p.EntryPrice, 64)
		pos.Quantity += qty
		if qty != 0 {
			pos.AverageCost = entry
		}
	}
	if pos.Quantity == 0 {
		pos.AverageCost = 0
	}
	return pos, nil
}

// GetAccountBalance reports available and total margin balance in the quote asset.
func (c *Client) GetAccountBalance(ctx context.Context) (domain.Balance, error) {
	op := "GetAccountBalance"
	account, err := c.api.account(ctx)
	if err != nil {
		return domain.Balance{}, c.handleError(ctx, err, op)
	}
	cash, err := strconv.ParseFloat(account.AvailableBalance, 64)
	if err != nil {
		return domain.Balance{}, c.handleError(ctx, fmt.Errorf("could not parse available balance '%s': %w", account.AvailableBalance, err), op)
	}
	total, err := strconv.ParseFloat(account.TotalMarginBalance, 64)
	if err != nil {
		return domain.Balance{}, c.handleError(ctx, fmt.Errorf("could not parse margin balance '%s': %w", account.TotalMarginBalance, err), op)
	}
	return domain.Balance{Cash: cash, TotalValue: total, Currency: c.asset}, nil
}

// handleError translates common Binance API errors into standardized ports errors.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}
	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message
		mappedErr := mapAPICode(apiErr.Code)
		c.logger.Error(ctx, err, fmt.Sprintf("%s failed with API error", operation), fields)
		return fmt.Errorf("%s failed: %w: %w", operation, mappedErr, err)
	}

	var finalErr error
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		finalErr = fmt.Errorf("%s operation canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	case errors.As(err, &netErr) && netErr.Timeout():
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	case errors.As(err, &netErr),
		strings.Contains(err.Error(), "use of closed network connection"),
		strings.Contains(err.Error(), "connection refused"),
		strings.Contains(err.Error(), "connection reset by peer"),
		strings.Contains(err.Error(), "EOF"):
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTransport, err)
	default:
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrUnknown, err)
	}
	c.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	return finalErr
}

func mapAPICode(code int64) error {
	switch code {
	case -1003, -1015: // too many requests / orders
		return ports.ErrRateLimited
	case -1001, -1016: // disconnected / service shutting down
		return ports.ErrTransport
	case -1007, -1021: // backend timeout / recvWindow
		return ports.ErrTimeout
	case -1002, -1022, -2014, -2015: // unauthorized / bad signature / bad key
		return ports.ErrAuthExpired
	case -1100, -1101, -1102, -1103, -1104, -1105, -1106, -1111, -1115, -1116, -1117, -1120, -1121, -1125, -1127, -1128, -1130:
		return ports.ErrInvalidRequest
	case -2019, -3005, -3041, -4047: // margin or balance insufficient
		return ports.ErrInsufficientFunds
	case -2010, -2020, -2021, -2022, -4003, -4014, -4164: // order refused by matching rules
		return ports.ErrBrokerRejected
	default:
		return ports.ErrUnknown
	}
}

// clientOrderID fits a reference into Binance's 36 character client id.
func clientOrderID(ref string) string {
	if len(ref) > 36 {
		return ref[:36]
	}
	return ref
}

// --- Translation Helpers ---

func translateOrder(req domain.OrderRequest, status, executedQty, avgPrice string, at time.Time) domain.OrderOutcome {
	qty, _ := strconv.ParseFloat(executedQty, 64)
	price, _ := strconv.ParseFloat(avgPrice, 64)
	out := domain.OrderOutcome{
		ClientReference: req.ClientReference,
		Instrument:      req.Instrument,
		Side:            req.Side,
		FilledQuantity:  qty,
		FilledPrice:     price,
		RecordedAt:      at,
	}
	switch futures.OrderStatusType(status) {
	case futures.OrderStatusTypeFilled:
		out.Status = domain.StatusFilled
	case futures.OrderStatusTypePartiallyFilled:
		out.Status = domain.StatusPartial
	case futures.OrderStatusTypeNew:
		if qty > 0 {
			out.Status = domain.StatusPartial
		} else {
			out.Status = domain.StatusTimeout
			out.ErrorDetail = "order accepted but not filled"
		}
	default: // CANCELED, REJECTED, EXPIRED
		if qty > 0 {
			out.Status = domain.StatusPartial
		} else {
			out.Status = domain.StatusRejected
			out.ErrorDetail = "order " + strings.ToLower(status)
		}
	}
	return out
}

func translateKline(k *futures.Kline, instrument string) (domain.PriceBar, error) {
	if k == nil {
		return domain.PriceBar{}, errors.New("received nil historical kline")
	}
	var vals [5]float64
	for i, s := range []string{k.Open, k.High, k.Low, k.Close, k.Volume} {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return domain.PriceBar{}, fmt.Errorf("parsing kline field '%s': %w", s, err)
		}
		vals[i] = v
	}
	return domain.PriceBar{
		Instrument: instrument,
		Timestamp:  time.UnixMilli(k.OpenTime).UTC(),
		Open:       vals[0],
		High:       vals[1],
		Low:        vals[2],
		Close:      vals[3],
		Volume:     vals[4],
	}, nil
}

// futuresAPI adapts *futures.Client to api.
type futuresAPI struct {
	client *futures.Client
}

func (f *futuresAPI) klines(ctx context.Context, symbol, interval string, limit int, end time.Time) ([]*futures.Kline, error) {
	return f.client.NewKlinesService().
		Symbol(symbol).
		Interval(interval).
		EndTime(end.UnixMilli()).
		Limit(limit).
		Do(ctx)
}

func (f *futuresAPI) createOrder(ctx context.Context, p orderParams) (*futures.CreateOrderResponse, error) {
	return f.client.NewCreateOrderService().
		Symbol(p.Symbol).
		Side(p.Side).
		Type(p.Type).
		Quantity(p.Quantity).
		NewClientOrderID(p.ClientOrderID).
		NewOrderResponseType(futures.NewOrderRespTypeRESULT).
		Do(ctx)
}

func (f *futuresAPI) getOrder(ctx context.Context, symbol, clientOrderID string) (*futures.Order, error) {
	return f.client.NewGetOrderService().Symbol(symbol).OrigClientOrderID(clientOrderID).Do(ctx)
}

func (f *futuresAPI) positionRisk(ctx context.Context, symbol string) ([]*futures.PositionRisk, error) {
	return f.client.NewGetPositionRiskService().Symbol(symbol).Do(ctx)
}

func (f *futuresAPI) account(ctx context.Context) (*futures.Account, error) {
	return f.client.NewGetAccountService().Do(ctx)
}
