package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autoTrader/internal/domain"
	"autoTrader/internal/ports"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

var (
	_ ports.MarketData = (*Client)(nil)
	_ ports.Brokerage  = (*Client)(nil)
)

type fakeAPI struct {
	bars      []*futures.Kline // full history, oldest first
	klineErr  error
	calls     int
	orderResp *futures.CreateOrderResponse
	orderErr  error
	lastOrder orderParams
	existing  *futures.Order
	positions []*futures.PositionRisk
	acct      *futures.Account
}

func (f *fakeAPI) klines(ctx context.Context, symbol, interval string, limit int, end time.Time) ([]*futures.Kline, error) {
	f.calls++
	if f.klineErr != nil {
		return nil, f.klineErr
	}
	var upTo []*futures.Kline
	for _, k := range f.bars {
		if k.OpenTime <= end.UnixMilli() {
			upTo = append(upTo, k)
		}
	}
	if len(upTo) > limit {
		upTo = upTo[len(upTo)-limit:]
	}
	return upTo, nil
}

func (f *fakeAPI) createOrder(ctx context.Context, p orderParams) (*futures.CreateOrderResponse, error) {
	f.lastOrder = p
	return f.orderResp, f.orderErr
}

func (f *fakeAPI) getOrder(ctx context.Context, symbol, clientOrderID string) (*futures.Order, error) {
	if f.existing == nil {
		return nil, &common.APIError{Code: -2013, Message: "Order does not exist."}
	}
	return f.existing, nil
}

func (f *fakeAPI) positionRisk(ctx context.Context, symbol string) ([]*futures.PositionRisk, error) {
	return f.positions, nil
}

func (f *fakeAPI) account(ctx context.Context) (*futures.Account, error) {
	return f.acct, nil
}

var start = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func fifteenMinuteBars(n int) []*futures.Kline {
	out := make([]*futures.Kline, n)
	for i := range out {
		open := start.Add(time.Duration(i) * 15 * time.Minute)
		px := strconv.Itoa(100 + i)
		out[i] = &futures.Kline{
			OpenTime: open.UnixMilli(), CloseTime: open.Add(15*time.Minute).UnixMilli() - 1,
			Open: px, High: px, Low: px, Close: px, Volume: "10",
		}
	}
	return out
}

func newTestClient(f *fakeAPI, now time.Time) *Client {
	c := newClient(f, Config{Logger: &mockLogger{}})
	c.now = func() time.Time { return now }
	return c
}

func TestGetPriceHistory(t *testing.T) {
	f := &fakeAPI{bars: fifteenMinuteBars(40)}
	// the 40th bar (index 39) is still open
	now := start.Add(39*15*time.Minute + 5*time.Minute)
	c := newTestClient(f, now)

	bars, err := c.GetPriceHistory(context.Background(), "BTCUSDT", 10)
	require.NoError(t, err)
	require.Len(t, bars, 10)
	assert.Equal(t, 129.0, bars[0].Close)
	assert.Equal(t, 138.0, bars[9].Close)
	assert.Equal(t, "BTCUSDT", bars[9].Instrument)
	for i := 1; i < len(bars); i++ {
		assert.True(t, bars[i].Timestamp.After(bars[i-1].Timestamp))
	}
}

func TestGetPriceHistory_Paginates(t *testing.T) {
	f := &fakeAPI{bars: fifteenMinuteBars(maxKlinesPerRequest + 200)}
	now := start.Add(time.Duration(maxKlinesPerRequest+200) * 15 * time.Minute)
	c := newTestClient(f, now)

	bars, err := c.GetPriceHistory(context.Background(), "BTCUSDT", maxKlinesPerRequest+100)
	require.NoError(t, err)
	assert.Len(t, bars, maxKlinesPerRequest+100)
	assert.Equal(t, 2, f.calls)
	assert.Equal(t, float64(100+maxKlinesPerRequest+199), bars[len(bars)-1].Close)
}

func TestGetPriceHistory_Errors(t *testing.T) {
	c := newTestClient(&fakeAPI{}, start)
	_, err := c.GetPriceHistory(context.Background(), "NONE", 5)
	assert.ErrorIs(t, err, ports.ErrDataUnavailable)

	c = newTestClient(&fakeAPI{klineErr: &common.APIError{Code: -1121, Message: "Invalid symbol."}}, start)
	_, err = c.GetPriceHistory(context.Background(), "NONE", 5)
	assert.ErrorIs(t, err, ports.ErrDataUnavailable)

	_, err = c.GetPriceHistory(context.Background(), "X", 0)
	assert.ErrorIs(t, err, ports.ErrInvalidRequest)
}

func TestSubmitOrder(t *testing.T) {
	req := domain.OrderRequest{
		Instrument: "BTCUSDT", Side: domain.Buy, Quantity: 0.1 + 0.2, OrderType: domain.OrderTypeMarket,
		ClientReference: "6f1d4a8e-2b7c-5e90-9a3d-1c4b7e2f8a60",
	}
	tests := []struct {
		name       string
		resp       *futures.CreateOrderResponse
		wantStatus domain.OrderStatus
		wantQty    float64
	}{
		{"filled", &futures.CreateOrderResponse{Status: futures.OrderStatusTypeFilled, ExecutedQuantity: "0.3", AvgPrice: "65000.5"}, domain.StatusFilled, 0.3},
		{"partial", &futures.CreateOrderResponse{Status: futures.OrderStatusTypePartiallyFilled, ExecutedQuantity: "0.1", AvgPrice: "65000"}, domain.StatusPartial, 0.1},
		{"expired unfilled", &futures.CreateOrderResponse{Status: futures.OrderStatusTypeExpired, ExecutedQuantity: "0"}, domain.StatusRejected, 0},
		{"accepted unfilled", &futures.CreateOrderResponse{Status: futures.OrderStatusTypeNew, ExecutedQuantity: "0"}, domain.StatusTimeout, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeAPI{orderResp: tt.resp}
			out, err := newTestClient(f, start).SubmitOrder(context.Background(), req)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, out.Status)
			assert.Equal(t, tt.wantQty, out.FilledQuantity)
			assert.Equal(t, req.ClientReference, out.ClientReference)
			assert.Equal(t, "0.3", f.lastOrder.Quantity)
			assert.Equal(t, req.ClientReference, f.lastOrder.ClientOrderID)
			assert.Equal(t, futures.OrderTypeMarket, f.lastOrder.Type)
		})
	}
}

func TestSubmitOrder_DuplicateClientIDReportsExisting(t *testing.T) {
	f := &fakeAPI{
		orderErr: &common.APIError{Code: -4116, Message: "ClientOrderId is duplicated."},
		existing: &futures.Order{Status: futures.OrderStatusTypeFilled, ExecutedQuantity: "2", AvgPrice: "10"},
	}
	out, err := newTestClient(f, start).SubmitOrder(context.Background(), domain.OrderRequest{
		Instrument: "X", Side: domain.Sell, Quantity: 2, ClientReference: "ref",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFilled, out.Status)
	assert.Equal(t, 10.0, out.FilledPrice)
}

func TestSubmitOrder_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"bad key", &common.APIError{Code: -2015}, ports.ErrAuthExpired},
		{"signature", &common.APIError{Code: -1022}, ports.ErrAuthExpired},
		{"rate limit", &common.APIError{Code: -1003}, ports.ErrRateLimited},
		{"margin", &common.APIError{Code: -2019}, ports.ErrInsufficientFunds},
		{"rejected", &common.APIError{Code: -2010}, ports.ErrBrokerRejected},
		{"bad quantity", &common.APIError{Code: -1111}, ports.ErrInvalidRequest},
		{"deadline", fmt.Errorf("do: %w", context.DeadlineExceeded), ports.ErrTimeout},
		{"refused", errors.New("dial tcp: connection refused"), ports.ErrTransport},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeAPI{orderErr: tt.err}
			_, err := newTestClient(f, start).SubmitOrder(context.Background(), domain.OrderRequest{Instrument: "X", Side: domain.Buy, Quantity: 1, ClientReference: "r"})
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestGetPositionAndBalance(t *testing.T) {
	f := &fakeAPI{
		positions: []*futures.PositionRisk{{Symbol: "BTCUSDT", PositionAmt: "-0.5", EntryPrice: "64000"}},
		acct:      &futures.Account{AvailableBalance: "1200.5", TotalMarginBalance: "5000"},
	}
	c := newTestClient(f, start)

	pos, err := c.GetPosition(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, -0.5, pos.Quantity)
	assert.Equal(t, 64000.0, pos.AverageCost)

	f.positions = nil
	pos, err = c.GetPosition(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.True(t, pos.IsFlat())

	bal, err := c.GetAccountBalance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.Balance{Cash: 1200.5, TotalValue: 5000, Currency: "USDT"}, bal)
}
