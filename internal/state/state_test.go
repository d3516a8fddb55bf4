package state

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"ScalpSentinel/internal/apperr"
	"ScalpSentinel/internal/model"
)

type failingStore struct {
	FileStore
	fail bool
}

func (f *failingStore) Save(ctx context.Context, snap model.Snapshot) error {
	if f.fail {
		return errors.New("disk full")
	}
	return f.FileStore.Save(ctx, snap)
}

type ManagerSuite struct {
	suite.Suite
	store *failingStore
	mgr   *Manager
}

func (s *ManagerSuite) SetupTest() {
	s.store = &failingStore{FileStore: FileStore{Path: filepath.Join(s.T().TempDir(), "nested", "state.json")}}
	mgr, err := NewManager(context.Background(), s.store)
	s.Require().NoError(err)
	s.mgr = mgr
}

func (s *ManagerSuite) TestUpdatePersists() {
	pos := &model.OpenPosition{Ticker: "SPY", Direction: model.DirectionCall, OptionSymbol: "SPY260302C00500000", Contracts: 2, EntryPrice: 1.25}
	_, err := s.mgr.Update(context.Background(), func(snap *model.Snapshot) error {
		snap.OpenPosition = pos
		snap.ActiveTickers = []model.ScoredSymbol{{Symbol: "SPY", Score: 40, Rank: 1}}
		return nil
	})
	s.Require().NoError(err)

	reloaded, err := NewManager(context.Background(), s.store)
	s.Require().NoError(err)
	got := reloaded.Snapshot().OpenPosition
	s.Require().NotNil(got)
	s.Equal("SPY260302C00500000", got.OptionSymbol)
	s.Equal(2, got.Contracts)
	s.Equal("SPY", reloaded.Snapshot().ActiveTickers[0].Symbol)
	s.False(reloaded.Snapshot().UpdatedAt.IsZero())
}

func (s *ManagerSuite) TestFailedSaveLeavesDocumentUnchanged() {
	s.Require().NoError(s.mgr.SetPaused(context.Background(), true))

	s.store.fail = true
	err := s.mgr.SetPaused(context.Background(), false)
	s.Require().Error(err)
	s.True(apperr.HasCode(err, apperr.CodeStorage))
	s.True(s.mgr.Paused())
}

func (s *ManagerSuite) TestFailedMutationLeavesDocumentUnchanged() {
	_, err := s.mgr.Update(context.Background(), func(snap *model.Snapshot) error {
		snap.TickerOfTheDay = "QQQ"
		return errors.New("refused")
	})
	s.Require().EqualError(err, "refused")
	s.Empty(s.mgr.Snapshot().TickerOfTheDay)
}

func (s *ManagerSuite) TestSnapshotIsACopy() {
	_, err := s.mgr.Update(context.Background(), func(snap *model.Snapshot) error {
		snap.OpenPosition = &model.OpenPosition{Ticker: "SPY", Contracts: 1}
		return nil
	})
	s.Require().NoError(err)

	snap := s.mgr.Snapshot()
	snap.OpenPosition.Contracts = 99
	s.Equal(1, s.mgr.Snapshot().OpenPosition.Contracts)
}

func (s *ManagerSuite) TestBreakerRoundTrip() {
	tripped := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)
	s.Require().NoError(s.mgr.SaveBreaker(context.Background(), model.BreakerState{Open: true, TrippedAt: tripped, Context: "signal"}))

	reloaded, err := NewManager(context.Background(), s.store)
	s.Require().NoError(err)
	b := reloaded.LoadBreaker()
	s.True(b.Open)
	s.Equal("signal", b.Context)
	s.True(tripped.Equal(b.TrippedAt))
}

func TestManagerSuite(t *testing.T) {
	suite.Run(t, new(ManagerSuite))
}

func TestFileStore_MissingAndCorrupt(t *testing.T) {
	dir := t.TempDir()
	snap, err := FileStore{Path: filepath.Join(dir, "absent.json")}.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, snap.OpenPosition)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{not json"), 0o644))
	_, err = FileStore{Path: bad}.Load(context.Background())
	assert.Error(t, err)

	_, err = NewManager(context.Background(), FileStore{Path: bad})
	assert.True(t, apperr.HasCode(err, apperr.CodeStorage))
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx := context.Background()
	store, err := NewRedisStore(ctx, addr, 0, "scalpsentinel:test:"+t.Name())
	require.NoError(t, err)
	defer store.Close()
	defer store.client.Del(ctx, store.key)

	empty, err := store.Load(ctx)
	require.NoError(t, err)
	assert.False(t, empty.Paused)

	require.NoError(t, store.Save(ctx, model.Snapshot{Paused: true, TickerOfTheDay: "SPY"}))
	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.True(t, got.Paused)
	assert.Equal(t, "SPY", got.TickerOfTheDay)
}
