package venue

import (
	"context"
	"errors"
	"testing"

	"signal-trade-bot-go/internal/analyzer"
	"signal-trade-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
)

// MockClient is a mock implementation of the Client interface.
type MockClient struct {
	mock.Mock
}

func (m *MockClient) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	args := m.Called(symbol, leverage)
	return args.Error(0)
}

func (m *MockClient) PlaceMarketOrder(ctx context.Context, symbol, side, qty string, reduceOnly bool) (string, error) {
	args := m.Called(symbol, side, qty, reduceOnly)
	return args.String(0), args.Error(1)
}

func (m *MockClient) PlaceStopLoss(ctx context.Context, symbol, side string, stopPrice float64) error {
	args := m.Called(symbol, side, stopPrice)
	return args.Error(0)
}

func (m *MockClient) PlaceTakeProfit(ctx context.Context, symbol, side string, stopPrice float64, qty string) error {
	args := m.Called(symbol, side, stopPrice, qty)
	return args.Error(0)
}

func (m *MockClient) PlaceTrailingStop(ctx context.Context, symbol, side, qty string, callbackRate, activationPrice, refPrice float64) error {
	args := m.Called(symbol, side, qty, callbackRate, activationPrice, refPrice)
	return args.Error(0)
}

func (m *MockClient) AvailableBalance(ctx context.Context) (float64, error) {
	args := m.Called()
	return args.Get(0).(float64), args.Error(1)
}

func (m *MockClient) Position(ctx context.Context, symbol string) (*PositionState, error) {
	args := m.Called(symbol)
	return args.Get(0).(*PositionState), args.Error(1)
}

func lotSizeError() *Error {
	return &Error{Kind: KindVenue, Code: -1111, Message: "Precision is over the maximum defined for this symbol (LOT_SIZE filter failure)"}
}

func buySignal() analyzer.Signal {
	return analyzer.Signal{Action: analyzer.ActionBuy, Symbol: "BTCUSDT", Price: 50000, Confidence: 1}
}

func fixedStrategy() *models.StrategyConfig {
	cfg := &models.StrategyConfig{
		SizingMode:    models.SizingFixedNotional,
		FixedNotional: 100,
		Leverage:      5,
	}
	cfg.ApplyDefaults()
	return cfg
}

func TestExecute_FixedNotionalQuantity(t *testing.T) {
	// 100 USDT at 50000 = 0.002.
	client := new(MockClient)
	client.On("SetLeverage", "BTCUSDT", 5).Return(nil)
	client.On("PlaceMarketOrder", "BTCUSDT", SideBuy, "0.002", false).Return("order-1", nil)

	res := NewExecutor(client, zap.NewNop()).Execute(context.Background(), fixedStrategy(), buySignal(), Options{})

	assert.True(t, res.Success)
	assert.Equal(t, "order-1", res.OrderID)
	assert.InDelta(t, 0.002, res.Quantity, 1e-9)
	assert.Equal(t, 3, res.Precision)
	assert.Empty(t, res.Error)
	client.AssertExpectations(t)
}

func TestExecute_PrecisionRetryLadder(t *testing.T) {
	cfg := fixedStrategy()
	cfg.FixedNotional = 61725 // 1.2345 at 50000

	client := new(MockClient)
	client.On("SetLeverage", "BTCUSDT", 5).Return(nil)
	client.On("PlaceMarketOrder", "BTCUSDT", SideBuy, "1.234", false).Return("", lotSizeError()).Once()
	client.On("PlaceMarketOrder", "BTCUSDT", SideBuy, "1.23", false).Return("", lotSizeError()).Once()
	client.On("PlaceMarketOrder", "BTCUSDT", SideBuy, "1.2", false).Return("", lotSizeError()).Once()
	client.On("PlaceMarketOrder", "BTCUSDT", SideBuy, "1", false).Return("order-9", nil).Once()

	res := NewExecutor(client, zap.NewNop()).Execute(context.Background(), cfg, buySignal(), Options{})

	assert.True(t, res.Success)
	assert.Equal(t, "order-9", res.OrderID)
	assert.Equal(t, 0, res.Precision)
	assert.InDelta(t, 1.0, res.Quantity, 1e-9)
	client.AssertExpectations(t)
}

func TestExecute_NonPrecisionErrorDoesNotRetry(t *testing.T) {
	client := new(MockClient)
	client.On("SetLeverage", "BTCUSDT", 5).Return(nil)
	client.On("PlaceMarketOrder", "BTCUSDT", SideBuy, "0.002", false).
		Return("", &Error{Kind: KindVenue, Code: -2019, Message: "Margin is insufficient"}).Once()

	res := NewExecutor(client, zap.NewNop()).Execute(context.Background(), fixedStrategy(), buySignal(), Options{})

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "Margin is insufficient")
	client.AssertExpectations(t) // exactly one placement attempt
}

func TestExecute_LeverageFailureAbortsBeforeEntry(t *testing.T) {
	client := new(MockClient)
	client.On("SetLeverage", "BTCUSDT", 5).Return(errors.New("leverage endpoint down"))

	res := NewExecutor(client, zap.NewNop()).Execute(context.Background(), fixedStrategy(), buySignal(), Options{})

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "set leverage")
	client.AssertNotCalled(t, "PlaceMarketOrder", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestExecute_ProtectiveLegFailureIsPartialSuccess(t *testing.T) {
	cfg := fixedStrategy()
	cfg.StopLossPercent = 2
	cfg.TakeProfit1 = models.TakeProfitLeg{Enabled: true, Percent: 4, CloseFraction: 0.5}

	// Computed with the same expressions the executor uses, so the float
	// arguments match bit for bit.
	slPrice := 50000 * (1 - 2.0/100)
	tpPrice := 50000 * (1 + 4.0/100)

	client := new(MockClient)
	client.On("SetLeverage", "BTCUSDT", 5).Return(nil)
	client.On("PlaceMarketOrder", "BTCUSDT", SideBuy, "0.002", false).Return("order-2", nil)
	// Long entry: stop below entry, close side SELL.
	client.On("PlaceStopLoss", "BTCUSDT", SideSell, slPrice).Return(errors.New("timeout"))
	// TP at +4%, half the size at the accepted precision.
	client.On("PlaceTakeProfit", "BTCUSDT", SideSell, tpPrice, "0.001").Return(nil)

	res := NewExecutor(client, zap.NewNop()).Execute(context.Background(), cfg, buySignal(), Options{})

	assert.True(t, res.Success, "entry fill must survive leg failures")
	assert.Equal(t, "order-2", res.OrderID)
	assert.Contains(t, res.Error, "stop loss")
	client.AssertExpectations(t)
}

func TestExecute_RiskPercentSizing(t *testing.T) {
	cfg := fixedStrategy()
	cfg.SizingMode = models.SizingRiskPercent
	cfg.RiskPercent = 1
	cfg.StopLossPercent = 2

	client := new(MockClient)
	client.On("AvailableBalance").Return(10000.0, nil)
	client.On("SetLeverage", "BTCUSDT", 5).Return(nil)
	// risk = 100 USDT, stop distance = 1000 USDT -> 0.1
	client.On("PlaceMarketOrder", "BTCUSDT", SideBuy, "0.100", false).Return("order-3", nil)
	client.On("PlaceStopLoss", "BTCUSDT", SideSell, 50000*(1-2.0/100)).Return(nil)

	res := NewExecutor(client, zap.NewNop()).Execute(context.Background(), cfg, buySignal(), Options{})

	assert.True(t, res.Success)
	client.AssertExpectations(t)
}

func TestExecute_TrailingCallbackClamped(t *testing.T) {
	cfg := fixedStrategy()
	cfg.TrailingEnabled = true
	cfg.TrailingCallback = 9.5 // above the 5% cap

	client := new(MockClient)
	client.On("SetLeverage", "BTCUSDT", 5).Return(nil)
	client.On("PlaceMarketOrder", "BTCUSDT", SideBuy, "0.002", false).Return("order-4", nil)
	client.On("PlaceTrailingStop", "BTCUSDT", SideSell, "0.002", 5.0, 0.0, 50000.0).Return(nil)

	res := NewExecutor(client, zap.NewNop()).Execute(context.Background(), cfg, buySignal(), Options{})

	assert.True(t, res.Success)
	client.AssertExpectations(t)
}

func TestExecute_QuantityOverrideSkipsSizing(t *testing.T) {
	client := new(MockClient)
	client.On("SetLeverage", "BTCUSDT", 5).Return(nil)
	client.On("PlaceMarketOrder", "BTCUSDT", SideBuy, "0.250", false).Return("order-5", nil)

	res := NewExecutor(client, zap.NewNop()).Execute(context.Background(), fixedStrategy(), buySignal(), Options{QuantityOverride: 0.25})

	assert.True(t, res.Success)
	assert.InDelta(t, 0.25, res.Quantity, 1e-9)
	client.AssertExpectations(t)
}

func TestIsPrecisionError(t *testing.T) {
	assert.True(t, IsPrecisionError(lotSizeError()))
	assert.True(t, IsPrecisionError(&Error{Kind: KindVenue, Message: "Qty invalid"}))
	assert.False(t, IsPrecisionError(&Error{Kind: KindVenue, Message: "Margin is insufficient"}))
	assert.False(t, IsPrecisionError(&Error{Kind: KindTransport, Message: "lot size"}))
	assert.False(t, IsPrecisionError(errors.New("precision")))
}
