package notify

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vadiminshakov/dcabot/internal/domain"
	"github.com/vadiminshakov/dcabot/internal/services/strategy/dca"
)

type webhookMock struct {
	mock.Mock
}

func (m *webhookMock) WebhookExecute(webhookID, token string, wait bool, data *discordgo.WebhookParams, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	args := m.Called(webhookID, token, wait, data.Content)
	return nil, args.Error(0)
}

type notifierMock struct {
	mock.Mock
}

func (m *notifierMock) Notify(ctx context.Context, message string) error {
	return m.Called(message).Error(0)
}

func completion() dca.CycleCompletion {
	return dca.CycleCompletion{
		Symbol:               "BTC/USDT",
		CycleID:              7,
		NextCycleID:          8,
		NextStatus:           domain.CycleStatusCooldown,
		QuantitySold:         decimal.RequireFromString("0.5"),
		AveragePurchasePrice: decimal.NewFromInt(100),
		SellPrice:            decimal.NewNullDecimal(decimal.NewFromInt(112)),
		RealizedPnL:          decimal.NewFromInt(6),
	}
}

func TestCompletionMessage(t *testing.T) {
	msg := CompletionMessage(completion())
	assert.Equal(t, "BTC/USDT cycle #7 complete: sold 0.5 at 112 (avg 100), pnl 6.00; next cycle #8 is cooldown", msg)

	c := completion()
	c.SellPrice = decimal.NullDecimal{}
	assert.Contains(t, CompletionMessage(c), "at unknown")
}

func TestDiscord_Notify(t *testing.T) {
	m := &webhookMock{}
	m.On("WebhookExecute", "id", "token", false, "hello").Return(nil).Once()
	m.On("WebhookExecute", "id", "token", false, "boom").Return(errors.New("429")).Once()

	d := &Discord{session: m, webhookID: "id", token: "token"}
	require.NoError(t, d.Notify(context.Background(), "hello"))
	require.Error(t, d.Notify(context.Background(), "boom"))
	m.AssertExpectations(t)
}

func TestNew(t *testing.T) {
	n, err := New("", "")
	require.NoError(t, err)
	assert.IsType(t, Nop{}, n)

	_, err = New("id", "")
	require.Error(t, err)
}

func TestCompletionHook_FailureIsSwallowed(t *testing.T) {
	n := &notifierMock{}
	done := make(chan struct{})
	n.On("Notify", mock.AnythingOfType("string")).
		Run(func(mock.Arguments) { close(done) }).
		Return(errors.New("unreachable"))

	CompletionHook(zap.NewNop(), n)(context.Background(), completion())

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("notifier was not called")
	}
}
