package service

import (
	"context"
	"testing"

	"pricealert/internal/domain/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type serviceFixture struct {
	*engineFixture
	svc *AlertService
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	f := newEngineFixture(t, nil, nil)
	return &serviceFixture{engineFixture: f, svc: NewAlertService(f.store, f.engine, f.bus)}
}

func TestAlertServiceCreateRequiresPrice(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, "42", "alice", "btc", "10")
	assert.ErrorIs(t, err, ErrNoPrice)

	_, err = f.svc.Create(ctx, "42", "alice", "  ", "10")
	assert.ErrorIs(t, err, ErrInvalidSymbol)
	assert.Zero(t, f.engine.ActiveCount())
}

func TestAlertServiceCreateAnchorsAtCurrentPrice(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.bus.Publish(tick("BTCUSDT", "50000", model.SourceBinance))

	a, err := f.svc.Create(ctx, "42", "alice", "btc", "250")
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", a.Payload.Symbol)
	assert.True(t, a.Payload.AnchorPrice.Equal(px("50000")))
	assert.True(t, a.Payload.MoveAmount.Equal(px("250")))
	assert.Equal(t, "42", a.ChatID)
	assert.Equal(t, 1, f.engine.ActiveCount())
	require.Len(t, f.store.eventsOf(model.EventCreated), 1)

	// 新建的 alert 立即参与评估
	f.publish(t, "BTCUSDT", "50250")
	require.Len(t, f.notifier.list(), 1)
}

func TestAlertServiceCreateRejectsBadAmount(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.bus.Publish(tick("ETHUSDT", "3000", model.SourceBybit))

	for _, raw := range []string{"0", "-1", "abc", ""} {
		_, err := f.svc.Create(ctx, "42", "", "eth", raw)
		assert.ErrorIs(t, err, model.ErrInvalidAmount, "amount %q", raw)
	}
	_, err := f.svc.Create(ctx, "42", "", "eth", "0.123456")
	assert.ErrorIs(t, err, model.ErrTooManyDecimals)
	assert.Zero(t, f.engine.ActiveCount())
}

func TestAlertServiceEdit(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.bus.Publish(tick("BTCUSDT", "100", model.SourceBinance))

	a, err := f.svc.Create(ctx, "42", "alice", "btc", "10")
	require.NoError(t, err)

	_, err = f.svc.Edit(ctx, "99", "mallory", a.ID, "5")
	assert.ErrorIs(t, err, model.ErrAlertNotFound)

	f.bus.Publish(tick("BTCUSDT", "104", model.SourceBybit))
	res, err := f.svc.Edit(ctx, "42", "alice", a.ID, "20")
	require.NoError(t, err)
	assert.True(t, res.Previous.MoveAmount.Equal(px("10")))
	assert.True(t, res.Previous.AnchorPrice.Equal(px("100")))
	assert.True(t, res.Alert.Payload.MoveAmount.Equal(px("20")))
	assert.True(t, res.Alert.Payload.AnchorPrice.Equal(px("104")))

	stored := f.store.alert(a.ID)
	assert.True(t, stored.Payload.AnchorPrice.Equal(px("104")))

	edited := f.store.eventsOf(model.EventEdited)
	require.Len(t, edited, 1)
	require.NotNil(t, edited[0].Snapshot.Previous)
	assert.True(t, edited[0].Snapshot.Previous.MoveAmount.Equal(px("10")))

	// 引擎按新阈值和新锚点评估
	f.publish(t, "BTCUSDT", "120")
	assert.Empty(t, f.notifier.list())
	f.publish(t, "BTCUSDT", "124")
	require.Len(t, f.notifier.list(), 1)
}

func TestAlertServiceDrop(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.bus.Publish(tick("BTCUSDT", "100", model.SourceBinance))

	a, err := f.svc.Create(ctx, "42", "", "btc", "10")
	require.NoError(t, err)

	_, err = f.svc.Drop(ctx, "99", "", a.ID)
	assert.ErrorIs(t, err, model.ErrAlertNotFound)

	dropped, err := f.svc.Drop(ctx, "42", "", a.ID)
	require.NoError(t, err)
	assert.False(t, dropped.Active)
	assert.Zero(t, f.engine.ActiveCount())

	_, err = f.svc.Drop(ctx, "42", "", a.ID)
	assert.ErrorIs(t, err, model.ErrAlertNotFound)

	f.publish(t, "BTCUSDT", "200")
	assert.Empty(t, f.notifier.list())

	events, err := f.svc.History(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, model.EventCreated, events[0].Kind)
	assert.Equal(t, model.EventDropped, events[1].Kind)
}

func TestAlertServiceDropAllAndList(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.bus.Publish(tick("BTCUSDT", "100", model.SourceBinance))
	f.bus.Publish(tick("ETHUSDT", "10", model.SourceBinance))

	_, err := f.svc.Create(ctx, "42", "", "btc", "10")
	require.NoError(t, err)
	_, err = f.svc.Create(ctx, "42", "", "eth", "1")
	require.NoError(t, err)
	other, err := f.svc.Create(ctx, "7", "", "btc", "5")
	require.NoError(t, err)

	list, err := f.svc.List(ctx, "42", "")
	require.NoError(t, err)
	assert.Len(t, list, 2)

	n, err := f.svc.ActiveCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	dropped, err := f.svc.DropAll(ctx, "42", "")
	require.NoError(t, err)
	assert.Len(t, dropped, 2)
	assert.Equal(t, 1, f.engine.ActiveCount())

	list, err = f.svc.List(ctx, "42", "")
	require.NoError(t, err)
	assert.Empty(t, list)

	f.publish(t, "BTCUSDT", "110")
	msgs := f.notifier.list()
	require.Len(t, msgs, 1)
	assert.Equal(t, "7", msgs[0].chatID)
	assert.Equal(t, other.ID, f.store.eventsOf(model.EventTriggered)[0].AlertID)
}

func TestAlertServiceRequiresChat(t *testing.T) {
	f := newServiceFixture(t)
	_, err := f.svc.List(context.Background(), "", "")
	assert.Error(t, err)
}
