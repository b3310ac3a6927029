package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"pricealert/internal/domain/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T) *Repo {
	t.Helper()
	repo, err := New(filepath.Join(t.TempDir(), "alerts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func payload(symbol, move, anchor string) model.MovementPayload {
	return model.MovementPayload{
		Symbol:      symbol,
		MoveAmount:  decimal.RequireFromString(move),
		AnchorPrice: decimal.RequireFromString(anchor),
	}
}

func TestSQLiteRepoFindOrCreateUser(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	u1, err := repo.FindOrCreateUser(ctx, "1001", "alice")
	require.NoError(t, err)
	assert.Equal(t, "1001", u1.ChatID)
	assert.True(t, u1.Active)

	// empty username keeps the stored one
	u2, err := repo.FindOrCreateUser(ctx, "1001", "")
	require.NoError(t, err)
	assert.Equal(t, u1.ID, u2.ID)
	assert.Equal(t, "alice", u2.Username)
}

func TestSQLiteRepoAlertLifecycle(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	user, err := repo.FindOrCreateUser(ctx, "1001", "alice")
	require.NoError(t, err)

	a, err := repo.CreateAlert(ctx, user.ID, payload("BTCUSDT", "10", "100"))
	require.NoError(t, err)
	assert.Equal(t, "1001", a.ChatID)
	assert.Equal(t, model.AlertTypeMovement, a.Type)
	assert.True(t, a.Active)
	assert.True(t, a.Payload.AnchorPrice.Equal(decimal.NewFromInt(100)))

	require.NoError(t, repo.UpdatePayload(ctx, a.ID, payload("BTCUSDT", "10", "111")))
	got, err := repo.GetAlert(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, got.Payload.AnchorPrice.Equal(decimal.NewFromInt(111)))

	active, err := repo.LoadActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)

	n, err := repo.CountActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, repo.Deactivate(ctx, a.ID))
	assert.ErrorIs(t, repo.Deactivate(ctx, a.ID), model.ErrAlertNotFound)
	assert.ErrorIs(t, repo.UpdatePayload(ctx, a.ID, payload("BTCUSDT", "10", "120")), model.ErrAlertNotFound)

	active, err = repo.LoadActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestSQLiteRepoGetAlertMissing(t *testing.T) {
	repo := newTestRepo(t)
	_, err := repo.GetAlert(context.Background(), 42)
	assert.ErrorIs(t, err, model.ErrAlertNotFound)
}

func TestSQLiteRepoDeactivateAllForUser(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	alice, err := repo.FindOrCreateUser(ctx, "1", "alice")
	require.NoError(t, err)
	bob, err := repo.FindOrCreateUser(ctx, "2", "bob")
	require.NoError(t, err)

	for _, sym := range []string{"BTCUSDT", "ETHUSDT"} {
		_, err := repo.CreateAlert(ctx, alice.ID, payload(sym, "1", "100"))
		require.NoError(t, err)
	}
	_, err = repo.CreateAlert(ctx, bob.ID, payload("SOLUSDT", "1", "100"))
	require.NoError(t, err)

	dropped, err := repo.DeactivateAllForUser(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, dropped, 2)
	assert.Equal(t, "BTCUSDT", dropped[0].Payload.Symbol)
	assert.False(t, dropped[0].Active)

	left, err := repo.ListActiveByUser(ctx, alice.ID)
	require.NoError(t, err)
	assert.Empty(t, left)

	again, err := repo.DeactivateAllForUser(ctx, alice.ID)
	require.NoError(t, err)
	assert.Empty(t, again)

	n, err := repo.CountActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSQLiteRepoEvents(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	user, err := repo.FindOrCreateUser(ctx, "1001", "")
	require.NoError(t, err)
	a, err := repo.CreateAlert(ctx, user.ID, payload("BTCUSDT", "10", "100"))
	require.NoError(t, err)

	at := time.UnixMilli(1700000000123)
	repo.SetClock(func() time.Time { return at })

	price := decimal.NewFromInt(111)
	ev := model.NewEvent(a, model.EventTriggered, model.EventSnapshot{
		Price:     &price,
		Direction: model.DirectionUp,
		Source:    model.SourceBinance,
	})
	require.NoError(t, repo.AppendEvent(ctx, ev))
	assert.NotZero(t, ev.ID)
	assert.True(t, ev.CreatedAt.Equal(at))

	require.NoError(t, repo.AppendEvent(ctx, model.NewEvent(a, model.EventDropped, model.EventSnapshot{})))

	events, err := repo.ListEvents(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, model.EventTriggered, events[0].Kind)
	assert.True(t, events[0].CreatedAt.Equal(at))
	assert.Equal(t, model.DirectionUp, events[0].Snapshot.Direction)
	require.NotNil(t, events[0].Snapshot.Price)
	assert.True(t, events[0].Snapshot.Price.Equal(price))
	assert.True(t, events[0].Snapshot.Alert.AnchorPrice.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, model.EventDropped, events[1].Kind)
}
