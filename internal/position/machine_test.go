package position

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/moznion/go-optional"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ScalpSentinel/internal/broker/brokertest"
	"ScalpSentinel/internal/config"
	"ScalpSentinel/internal/model"
	"ScalpSentinel/internal/recorder"
	"ScalpSentinel/internal/state"
)

var eastern = time.FixedZone("EST", -5*3600)

type fakeReversal struct {
	rev bool
	err error
}

func (f fakeReversal) HasReversal(context.Context, string, model.Direction) (bool, error) {
	return f.rev, f.err
}

type recordingAlerts struct {
	filled []model.OpenPosition
	closed []model.TradeRecord
}

func (r *recordingAlerts) OrderFilled(pos model.OpenPosition) { r.filled = append(r.filled, pos) }

func (r *recordingAlerts) PositionClosed(_ model.OpenPosition, rec model.TradeRecord) {
	r.closed = append(r.closed, rec)
}

// flakyDisk is a file store whose next saves can be made to fail.
type flakyDisk struct {
	state.FileStore

	mu       sync.Mutex
	failures int
}

func (d *flakyDisk) Save(ctx context.Context, snap model.Snapshot) error {
	d.mu.Lock()
	fail := d.failures > 0
	if fail {
		d.failures--
	}
	d.mu.Unlock()
	if fail {
		return errors.New("disk full")
	}
	return d.FileStore.Save(ctx, snap)
}

func (d *flakyDisk) failNext(n int) {
	d.mu.Lock()
	d.failures = n
	d.mu.Unlock()
}

type fixture struct {
	gw      *brokertest.Gateway
	disk    *flakyDisk
	store   *state.Manager
	ledger  *recorder.MemoryLedger
	alerts  *recordingAlerts
	rev     ReversalChecker
	machine *Machine
	now     time.Time
}

func tradingConfig() config.TradingConfig {
	return config.TradingConfig{
		ProfitTarget:     0.15,
		StopLoss:         0.07,
		TimeoutSeconds:   300,
		EndOfDayExit:     "15:55",
		FillTimeout:      20 * time.Millisecond,
		FillPollInterval: time.Millisecond,
	}
}

func newFixture(t *testing.T, rev ReversalChecker) *fixture {
	t.Helper()
	disk := &flakyDisk{FileStore: state.FileStore{Path: filepath.Join(t.TempDir(), "state.json")}}
	store, err := state.NewManager(context.Background(), disk)
	require.NoError(t, err)

	f := &fixture{
		gw:     &brokertest.Gateway{},
		disk:   disk,
		store:  store,
		ledger: recorder.NewMemoryLedger(),
		alerts: &recordingAlerts{},
		rev:    rev,
		now:    time.Date(2024, 3, 5, 10, 1, 0, 0, eastern),
	}
	f.restart(t)
	return f
}

// restart rebuilds the machine from the persisted snapshot.
func (f *fixture) restart(t *testing.T) {
	t.Helper()
	m, err := NewMachine(tradingConfig(), eastern, f.gw, f.rev, f.store, f.ledger, f.alerts, zerolog.Nop())
	require.NoError(t, err)
	m.Now = func() time.Time { return f.now }
	f.machine = m
}

func (f *fixture) open(t *testing.T, entry float64) model.OpenPosition {
	t.Helper()
	pos := model.OpenPosition{
		Ticker:       "SPY",
		Direction:    model.DirectionCall,
		OptionSymbol: "SPY240305C00512000",
		Strike:       512,
		Expiration:   time.Date(2024, 3, 5, 0, 0, 0, 0, eastern),
		Contracts:    2,
		EntryPrice:   entry,
		EntryTime:    time.Date(2024, 3, 5, 10, 0, 0, 0, eastern),
		OrderID:      "o1",
	}
	_, err := f.store.Update(context.Background(), func(s *model.Snapshot) error {
		p := pos
		s.OpenPosition = &p
		return nil
	})
	require.NoError(t, err)
	f.restart(t)
	return pos
}

func (f *fixture) fills(orderID string) {
	f.gw.On("SubmitOrder", mock.Anything, mock.MatchedBy(func(r model.OrderRequest) bool {
		return r.Side == model.SideBuy
	})).Return(model.Order{ID: orderID}, nil)
	f.gw.On("GetOrder", mock.Anything, orderID).
		Return(model.Order{ID: orderID, Status: model.OrderStatusFilled, FilledQty: 2, FilledAvgPrice: 5.0}, nil)
}

func (f *fixture) rows(t *testing.T) []model.TradeRecord {
	t.Helper()
	rows, err := f.ledger.Records(context.Background(), time.Time{})
	require.NoError(t, err)
	return rows
}

func (f *fixture) quote(price float64) {
	f.gw.On("OptionMarketPrice", mock.Anything, "SPY240305C00512000").Return(optional.Some(price), nil)
}

func sellOrder(qty int) any {
	return mock.MatchedBy(func(r model.OrderRequest) bool {
		return r.Side == model.SideSell && r.Qty == qty && r.ClientOrderID != ""
	})
}

func entryRequest() EntryRequest {
	return EntryRequest{
		Ticker:    "SPY",
		Direction: model.DirectionCall,
		Contract: model.OptionCandidate{
			Symbol: "SPY240305C00512000", Strike: 512,
			Expiration: time.Date(2024, 3, 5, 0, 0, 0, 0, eastern), Price: 5.1,
		},
		Contracts: 2,
	}
}

func TestEnterFilled(t *testing.T) {
	f := newFixture(t, nil)
	f.gw.On("SubmitOrder", mock.Anything, mock.MatchedBy(func(r model.OrderRequest) bool {
		return r.Side == model.SideBuy && r.Qty == 2 && r.Symbol == "SPY240305C00512000" && r.ClientOrderID != ""
	})).Return(model.Order{ID: "o1", Status: model.OrderStatusAccepted}, nil).Once()
	f.gw.On("GetOrder", mock.Anything, "o1").
		Return(model.Order{ID: "o1", Status: model.OrderStatusFilled, FilledQty: 2, FilledAvgPrice: 5.0}, nil)

	got, err := f.machine.Enter(context.Background(), entryRequest())
	require.NoError(t, err)
	pos, err := got.Take()
	require.NoError(t, err)

	assert.InDelta(t, 5.0, pos.EntryPrice, 1e-9)
	assert.Equal(t, 2, pos.Contracts)
	assert.Equal(t, f.now, pos.EntryTime)
	assert.Equal(t, model.PhaseOpen, f.machine.Phase())
	require.NotNil(t, f.store.Snapshot().OpenPosition)
	assert.Equal(t, "o1", f.store.Snapshot().OpenPosition.OrderID)
	assert.Len(t, f.alerts.filled, 1)
	f.gw.AssertNotCalled(t, "CancelOrder", mock.Anything, mock.Anything)
}

func TestEnterFillPriceFallsBackToQuote(t *testing.T) {
	f := newFixture(t, nil)
	f.gw.On("SubmitOrder", mock.Anything, mock.Anything).Return(model.Order{ID: "o1"}, nil)
	f.gw.On("GetOrder", mock.Anything, "o1").
		Return(model.Order{ID: "o1", Status: model.OrderStatusFilled, FilledQty: 2}, nil)

	got, err := f.machine.Enter(context.Background(), entryRequest())
	require.NoError(t, err)
	assert.InDelta(t, 5.1, got.TakeOr(model.OpenPosition{}).EntryPrice, 1e-9)
}

func TestEnterNotFilledCancels(t *testing.T) {
	f := newFixture(t, nil)
	f.gw.On("SubmitOrder", mock.Anything, mock.Anything).Return(model.Order{ID: "o1"}, nil)
	f.gw.On("GetOrder", mock.Anything, "o1").Return(model.Order{ID: "o1", Status: model.OrderStatusNew}, nil)
	f.gw.On("CancelOrder", mock.Anything, "o1").Return(nil).Once()

	got, err := f.machine.Enter(context.Background(), entryRequest())
	require.NoError(t, err)
	assert.True(t, got.IsNone())
	assert.Equal(t, model.PhaseFlat, f.machine.Phase())
	assert.Nil(t, f.store.Snapshot().OpenPosition)
	assert.Empty(t, f.alerts.filled)
	f.gw.AssertExpectations(t)
}

func TestEnterPartialFillKeepsFilledQty(t *testing.T) {
	f := newFixture(t, nil)
	f.gw.On("SubmitOrder", mock.Anything, mock.Anything).Return(model.Order{ID: "o1"}, nil)
	f.gw.On("GetOrder", mock.Anything, "o1").
		Return(model.Order{ID: "o1", Status: model.OrderStatusPartiallyFilled, FilledQty: 1, FilledAvgPrice: 5}, nil)
	f.gw.On("CancelOrder", mock.Anything, "o1").Return(nil).Once()

	got, err := f.machine.Enter(context.Background(), entryRequest())
	require.NoError(t, err)
	assert.Equal(t, 1, got.TakeOr(model.OpenPosition{}).Contracts)
}

func TestEnterRefusedWhenOpen(t *testing.T) {
	f := newFixture(t, nil)
	f.open(t, 5)

	_, err := f.machine.Enter(context.Background(), entryRequest())
	require.Error(t, err)
	f.gw.AssertNotCalled(t, "SubmitOrder", mock.Anything, mock.Anything)
}

func TestEnterSkippedWhenPaused(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.store.SetPaused(context.Background(), true))

	got, err := f.machine.Enter(context.Background(), entryRequest())
	require.NoError(t, err)
	assert.True(t, got.IsNone())
	f.gw.AssertNotCalled(t, "SubmitOrder", mock.Anything, mock.Anything)
}

func TestMonitorProfitTarget(t *testing.T) {
	// profit target outranks a simultaneous reversal
	f := newFixture(t, fakeReversal{rev: true})
	f.open(t, 5.00)
	f.quote(5.80)
	f.gw.On("SubmitOrder", mock.Anything, sellOrder(2)).Return(model.Order{ID: "s1"}, nil).Once()

	got, err := f.machine.Monitor(context.Background())
	require.NoError(t, err)
	rec, err := got.Take()
	require.NoError(t, err)

	assert.Equal(t, model.ExitProfitTarget, rec.ExitReason)
	assert.InDelta(t, 16.0, rec.PnLPct, 1e-9)
	assert.InDelta(t, 5.80, rec.ExitPrice, 1e-9)
	assert.Nil(t, f.store.Snapshot().OpenPosition)
	assert.Equal(t, model.PhaseFlat, f.machine.Phase())

	rows, err := f.ledger.Records(context.Background(), time.Time{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, rec, rows[0])
	assert.Len(t, f.alerts.closed, 1)
}

func TestMonitorExitRules(t *testing.T) {
	tests := []struct {
		name   string
		price  float64
		rev    fakeReversal
		now    time.Time
		reason string
	}{
		{"stop loss", 4.60, fakeReversal{rev: true}, time.Time{}, model.ExitStopLoss},
		{"reversal", 5.10, fakeReversal{rev: true}, time.Time{}, model.ExitReversal},
		{"reversal error ignored, timeout applies", 5.10, fakeReversal{err: errors.New("bars")},
			time.Date(2024, 3, 5, 10, 5, 0, 0, eastern), model.ExitTimeout},
		{"timeout", 5.10, fakeReversal{}, time.Date(2024, 3, 5, 10, 5, 0, 0, eastern), model.ExitTimeout},
		{"stays open", 5.10, fakeReversal{}, time.Time{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.rev)
			if !tt.now.IsZero() {
				f.now = tt.now
			}
			f.open(t, 5.00)
			f.quote(tt.price)
			f.gw.On("SubmitOrder", mock.Anything, sellOrder(2)).Return(model.Order{ID: "s1"}, nil)

			got, err := f.machine.Monitor(context.Background())
			require.NoError(t, err)
			if tt.reason == "" {
				assert.True(t, got.IsNone())
				assert.NotNil(t, f.store.Snapshot().OpenPosition)
				f.gw.AssertNotCalled(t, "SubmitOrder", mock.Anything, mock.Anything)
				return
			}
			assert.Equal(t, tt.reason, got.TakeOr(model.TradeRecord{}).ExitReason)
		})
	}
}

func TestMonitorEndOfDay(t *testing.T) {
	f := newFixture(t, nil)
	pos := f.open(t, 5.00)
	// a position entered late still exits at the cutoff before its timeout
	f.now = time.Date(2024, 3, 5, 15, 55, 0, 0, eastern)
	_, err := f.store.Update(context.Background(), func(s *model.Snapshot) error {
		s.OpenPosition.EntryTime = f.now.Add(-time.Minute)
		return nil
	})
	require.NoError(t, err)
	f.restart(t)
	f.quote(5.01)
	f.gw.On("SubmitOrder", mock.Anything, sellOrder(pos.Contracts)).Return(model.Order{ID: "s1"}, nil)

	got, err := f.machine.Monitor(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.ExitEndOfDay, got.TakeOr(model.TradeRecord{}).ExitReason)
}

func TestMonitorNoQuoteSkipsTick(t *testing.T) {
	f := newFixture(t, fakeReversal{rev: true})
	f.open(t, 5.00)
	f.gw.On("OptionMarketPrice", mock.Anything, mock.Anything).Return(optional.None[float64](), nil)

	got, err := f.machine.Monitor(context.Background())
	require.NoError(t, err)
	assert.True(t, got.IsNone())
	assert.NotNil(t, f.store.Snapshot().OpenPosition)
}

func TestMonitorFlat(t *testing.T) {
	f := newFixture(t, nil)
	got, err := f.machine.Monitor(context.Background())
	require.NoError(t, err)
	assert.True(t, got.IsNone())
	f.gw.AssertNotCalled(t, "OptionMarketPrice", mock.Anything, mock.Anything)
}

func TestMonitorSellFailureKeepsPosition(t *testing.T) {
	f := newFixture(t, nil)
	f.open(t, 5.00)
	f.quote(5.80)
	f.gw.On("SubmitOrder", mock.Anything, sellOrder(2)).Return(model.Order{}, errors.New("rejected"))

	_, err := f.machine.Monitor(context.Background())
	require.Error(t, err)
	assert.NotNil(t, f.store.Snapshot().OpenPosition)
	assert.Equal(t, model.PhaseOpen, f.machine.Phase())
	assert.Empty(t, f.alerts.closed)
}

func TestLedgerFailureKeepsPendingRow(t *testing.T) {
	f := newFixture(t, nil)
	f.open(t, 5.00)
	f.quote(5.80)
	f.gw.On("SubmitOrder", mock.Anything, sellOrder(2)).Return(model.Order{ID: "s1"}, nil)
	f.ledger.FailNext = errors.New("disk full")

	_, err := f.machine.Monitor(context.Background())
	require.NoError(t, err)
	snap := f.store.Snapshot()
	assert.Nil(t, snap.OpenPosition)
	require.Len(t, snap.PendingRecords, 1)

	// next tick flushes before doing anything else
	_, err = f.machine.Monitor(context.Background())
	require.NoError(t, err)
	assert.Empty(t, f.store.Snapshot().PendingRecords)
	rows, err := f.ledger.Records(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestForceCloseFallsBackToEntryPrice(t *testing.T) {
	f := newFixture(t, nil)
	f.open(t, 5.00)
	f.gw.On("OptionMarketPrice", mock.Anything, mock.Anything).Return(optional.None[float64](), nil)
	f.gw.On("SubmitOrder", mock.Anything, sellOrder(2)).Return(model.Order{ID: "s1"}, nil)

	got, err := f.machine.ForceClose(context.Background(), model.ExitManual)
	require.NoError(t, err)
	rec := got.TakeOr(model.TradeRecord{})
	assert.InDelta(t, 5.00, rec.ExitPrice, 1e-9)
	assert.InDelta(t, 0, rec.PnLPct, 1e-9)
	assert.Equal(t, model.ExitManual, rec.ExitReason)
}

func TestForceCloseFlat(t *testing.T) {
	f := newFixture(t, nil)
	got, err := f.machine.ForceClose(context.Background(), model.ExitManual)
	require.NoError(t, err)
	assert.True(t, got.IsNone())
}

func TestEnterSnapshotFailureHoldsPosition(t *testing.T) {
	f := newFixture(t, nil)
	f.fills("o1")
	f.disk.failNext(1)

	got, err := f.machine.Enter(context.Background(), entryRequest())
	require.Error(t, err)
	assert.True(t, got.IsSome())
	assert.Equal(t, model.PhaseOpen, f.machine.Phase())
	assert.True(t, f.machine.Current().IsSome())
	assert.Nil(t, f.store.Snapshot().OpenPosition)
	assert.Len(t, f.alerts.filled, 1)

	// the held position blocks a second buy and is saved on the way
	_, err = f.machine.Enter(context.Background(), entryRequest())
	require.Error(t, err)
	f.gw.AssertNumberOfCalls(t, "SubmitOrder", 1)
	require.NotNil(t, f.store.Snapshot().OpenPosition)
	assert.Equal(t, "o1", f.store.Snapshot().OpenPosition.OrderID)
}

func TestEnterRefusedWhileStateUnsaved(t *testing.T) {
	f := newFixture(t, nil)
	f.fills("o1")
	f.disk.failNext(2)

	_, err := f.machine.Enter(context.Background(), entryRequest())
	require.Error(t, err)
	_, err = f.machine.Enter(context.Background(), entryRequest())
	require.Error(t, err)
	f.gw.AssertNumberOfCalls(t, "SubmitOrder", 1)
}

func TestMonitorExitsHeldPositionWithoutSnapshot(t *testing.T) {
	f := newFixture(t, nil)
	f.fills("o1")
	f.disk.failNext(2)

	_, err := f.machine.Enter(context.Background(), entryRequest())
	require.Error(t, err)

	f.quote(5.80)
	f.gw.On("SubmitOrder", mock.Anything, sellOrder(2)).Return(model.Order{ID: "s1"}, nil).Once()
	got, err := f.machine.Monitor(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.ExitProfitTarget, got.TakeOr(model.TradeRecord{}).ExitReason)
	assert.Equal(t, model.PhaseFlat, f.machine.Phase())
	assert.Nil(t, f.store.Snapshot().OpenPosition)
	assert.Len(t, f.rows(t), 1)
}

func TestCloseSnapshotFailureSellsOnce(t *testing.T) {
	f := newFixture(t, nil)
	f.open(t, 5.00)
	f.quote(5.80)
	f.gw.On("SubmitOrder", mock.Anything, sellOrder(2)).Return(model.Order{ID: "s1"}, nil).Once()
	f.disk.failNext(1)

	got, err := f.machine.Monitor(context.Background())
	require.Error(t, err)
	rec, takeErr := got.Take()
	require.NoError(t, takeErr)
	assert.InDelta(t, 16.0, rec.PnLPct, 1e-9)
	assert.Equal(t, model.PhaseClosing, f.machine.Phase())
	assert.True(t, f.machine.Current().IsNone())
	assert.NotNil(t, f.store.Snapshot().OpenPosition)

	got, err = f.machine.Monitor(context.Background())
	require.NoError(t, err)
	assert.True(t, got.IsNone())
	assert.Equal(t, model.PhaseFlat, f.machine.Phase())
	assert.Nil(t, f.store.Snapshot().OpenPosition)

	f.gw.AssertNumberOfCalls(t, "SubmitOrder", 1)
	assert.Len(t, f.rows(t), 1)
	assert.Len(t, f.alerts.closed, 1)
}

func TestCloseLedgerAndSnapshotFailureKeepsRow(t *testing.T) {
	f := newFixture(t, nil)
	f.open(t, 5.00)
	f.gw.On("OptionMarketPrice", mock.Anything, mock.Anything).Return(optional.None[float64](), nil)
	f.gw.On("SubmitOrder", mock.Anything, sellOrder(2)).Return(model.Order{ID: "s1"}, nil).Once()
	f.ledger.FailNext = errors.New("ledger locked")
	f.disk.failNext(1)

	_, err := f.machine.ForceClose(context.Background(), model.ExitManual)
	require.Error(t, err)
	assert.Empty(t, f.rows(t))

	got, err := f.machine.ForceClose(context.Background(), model.ExitManual)
	require.NoError(t, err)
	assert.True(t, got.IsNone())
	require.Len(t, f.rows(t), 1)
	assert.Equal(t, model.ExitManual, f.rows(t)[0].ExitReason)
	assert.Empty(t, f.store.Snapshot().PendingRecords)
	f.gw.AssertNumberOfCalls(t, "SubmitOrder", 1)
}

func TestConcurrentEntersSubmitOneBuy(t *testing.T) {
	f := newFixture(t, nil)
	f.fills("o1")

	const callers = 8
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		opened int
		failed int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := f.machine.Enter(context.Background(), entryRequest())
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
			} else if got.IsSome() {
				opened++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, opened)
	assert.Equal(t, callers-1, failed)
	f.gw.AssertNumberOfCalls(t, "SubmitOrder", 1)
	assert.Len(t, f.alerts.filled, 1)
}

func TestConcurrentMonitorAndForceCloseSellOnce(t *testing.T) {
	f := newFixture(t, nil)
	f.open(t, 5.00)
	f.quote(5.80)
	f.gw.On("SubmitOrder", mock.Anything, sellOrder(2)).Return(model.Order{ID: "s1"}, nil)

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		closed int
	)
	run := func(fn func() (optional.Option[model.TradeRecord], error)) {
		defer wg.Done()
		got, err := fn()
		assert.NoError(t, err)
		if got.IsSome() {
			mu.Lock()
			closed++
			mu.Unlock()
		}
	}
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go run(func() (optional.Option[model.TradeRecord], error) { return f.machine.Monitor(context.Background()) })
		go run(func() (optional.Option[model.TradeRecord], error) {
			return f.machine.ForceClose(context.Background(), model.ExitManual)
		})
	}
	wg.Wait()

	assert.Equal(t, 1, closed)
	f.gw.AssertNumberOfCalls(t, "SubmitOrder", 1)
	assert.Len(t, f.rows(t), 1)
	assert.Len(t, f.alerts.closed, 1)
	assert.Equal(t, model.PhaseFlat, f.machine.Phase())
}
