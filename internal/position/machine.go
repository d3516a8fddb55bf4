// Package position owns the single open option position: entry with fill
// polling, ordered exit rules, and the close unit shared by exits and force close.
package position

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/moznion/go-optional"
	"github.com/rs/zerolog"

	"ScalpSentinel/internal/apperr"
	"ScalpSentinel/internal/config"
	"ScalpSentinel/internal/model"
)

// Broker is the part of the gateway the machine trades through.
type Broker interface {
	SubmitOrder(ctx context.Context, req model.OrderRequest) (model.Order, error)
	GetOrder(ctx context.Context, orderID string) (model.Order, error)
	CancelOrder(ctx context.Context, orderID string) error
	OptionMarketPrice(ctx context.Context, optionSymbol string) (optional.Option[float64], error)
}

// ReversalChecker reports an EMA reversal against the held direction.
type ReversalChecker interface {
	HasReversal(ctx context.Context, symbol string, entry model.Direction) (bool, error)
}

// Store is the snapshot document holding the open position.
type Store interface {
	Snapshot() model.Snapshot
	Update(ctx context.Context, fn func(*model.Snapshot) error) (model.Snapshot, error)
	Paused() bool
}

// Ledger is the append side of the trade ledger.
type Ledger interface {
	Append(ctx context.Context, rec model.TradeRecord) error
}

type Alerter interface {
	OrderFilled(pos model.OpenPosition)
	PositionClosed(pos model.OpenPosition, rec model.TradeRecord)
}

// EntryRequest is a sized order for a selected contract.
type EntryRequest struct {
	Ticker    string
	Direction model.Direction
	Contract  model.OptionCandidate
	Contracts int
}

// Machine serializes every transition of the open position under one mutex.
// Phases: Flat -> Open -> Closing -> Flat.
//
// The machine's own view of the position is authoritative. When the snapshot
// cannot be saved after a fill or a sale, the view is kept and the save is
// retried on the next call; a sold position stays Closing until it is saved and
// is never sold again.
type Machine struct {
	cfg      config.TradingConfig
	eod      config.Clock
	loc      *time.Location
	broker   Broker
	reversal ReversalChecker
	store    Store
	ledger   Ledger
	alerts   Alerter
	log      zerolog.Logger

	// Now is the clock used for exits and trade timestamps.
	Now func() time.Time

	mu sync.Mutex
	// dirty is set while the snapshot lags the view; unsaved holds closed trades
	// that neither the ledger nor the snapshot has yet. Both are guarded by mu.
	dirty   bool
	unsaved []model.TradeRecord

	view view
}

func NewMachine(cfg config.TradingConfig, loc *time.Location, broker Broker, reversal ReversalChecker,
	store Store, ledger Ledger, alerts Alerter, log zerolog.Logger) (*Machine, error) {
	eod, err := config.ParseClock(cfg.EndOfDayExit)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeConfiguration, "end_of_day_exit", err)
	}
	if loc == nil {
		loc = time.UTC
	}
	m := &Machine{
		cfg:      cfg,
		eod:      eod,
		loc:      loc,
		broker:   broker,
		reversal: reversal,
		store:    store,
		ledger:   ledger,
		alerts:   alerts,
		log:      log.With().Str("component", "position").Logger(),
		Now:      time.Now,
	}
	m.view.settle(store.Snapshot().OpenPosition)
	return m, nil
}

// Phase returns the lifecycle phase without waiting on an in-flight transition.
func (m *Machine) Phase() model.Phase {
	phase, _ := m.view.get()
	return phase
}

// Current returns the open position held by the machine.
func (m *Machine) Current() optional.Option[model.OpenPosition] {
	_, pos := m.view.get()
	if pos == nil {
		return optional.None[model.OpenPosition]()
	}
	return optional.Some(*pos)
}

// Enter buys the requested contract and waits for the fill. It returns none when
// the order did not fill or the operator paused trading. A filled position whose
// snapshot save fails is returned together with the storage error; the machine
// still holds and monitors it.
func (m *Machine) Enter(ctx context.Context, req EntryRequest) (optional.Option[model.OpenPosition], error) {
	none := optional.None[model.OpenPosition]()
	if req.Contracts <= 0 {
		return none, apperr.Newf(apperr.CodeInvariant, "entry for %s with %d contracts", req.Contract.Symbol, req.Contracts)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.sync(ctx); err != nil {
		return none, fmt.Errorf("entry refused while position state is unsaved: %w", err)
	}
	if _, held := m.view.get(); held != nil {
		return none, apperr.Newf(apperr.CodeInvariant, "position already open in %s", held.OptionSymbol)
	}
	if m.store.Paused() {
		m.log.Info().Str("ticker", req.Ticker).Msg("trading paused, entry skipped")
		return none, nil
	}

	order, err := m.broker.SubmitOrder(ctx, model.OrderRequest{
		Symbol:        req.Contract.Symbol,
		Qty:           req.Contracts,
		Side:          model.SideBuy,
		ClientOrderID: uuid.NewString(),
	})
	if err != nil {
		return none, fmt.Errorf("submit entry order: %w", err)
	}
	m.log.Info().Str("option", req.Contract.Symbol).Int("contracts", req.Contracts).
		Float64("quote", req.Contract.Price).Str("order_id", order.ID).Msg("entry order submitted")

	filled, err := m.waitForFill(ctx, order.ID)
	if err != nil {
		m.cancel(ctx, order.ID)
		return none, err
	}
	if filled.FilledQty <= 0 {
		m.log.Warn().Str("order_id", order.ID).Dur("timeout", m.cfg.FillTimeout).Msg("entry not filled, canceling")
		m.cancel(ctx, order.ID)
		return none, nil
	}

	contracts := req.Contracts
	if !filled.Filled() {
		// partial fill at the deadline: keep what filled, drop the rest
		m.cancel(ctx, order.ID)
		contracts = int(math.Floor(filled.FilledQty))
		if contracts <= 0 {
			return none, nil
		}
	}

	price := filled.FilledAvgPrice
	if price <= 0 {
		price = req.Contract.Price
	}
	pos := model.OpenPosition{
		Ticker:       req.Ticker,
		Direction:    req.Direction,
		OptionSymbol: req.Contract.Symbol,
		Strike:       req.Contract.Strike,
		Expiration:   req.Contract.Expiration,
		Contracts:    contracts,
		EntryPrice:   price,
		EntryTime:    m.Now(),
		OrderID:      order.ID,
	}
	m.view.set(model.PhaseOpen, &pos)
	m.dirty = true
	m.log.Info().Str("option", pos.OptionSymbol).Int("contracts", contracts).Float64("fill", price).Msg("position opened")
	m.alerts.OrderFilled(pos)

	if err := m.save(ctx); err != nil {
		m.log.Error().Err(err).Str("option", pos.OptionSymbol).Msg("filled position held in memory, snapshot save retried next tick")
		return optional.Some(pos), err
	}
	return optional.Some(pos), nil
}

func (m *Machine) waitForFill(ctx context.Context, orderID string) (model.Order, error) {
	deadline := time.Now().Add(m.cfg.FillTimeout)
	ticker := time.NewTicker(m.cfg.FillPollInterval)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		order, err := m.broker.GetOrder(ctx, orderID)
		switch {
		case err != nil:
			m.log.Warn().Err(err).Str("order_id", orderID).Msg("poll order")
		case order.Filled():
			return order, nil
		}
		select {
		case <-ctx.Done():
			return model.Order{}, ctx.Err()
		case <-ticker.C:
		}
	}

	order, err := m.broker.GetOrder(ctx, orderID)
	if err != nil {
		return model.Order{}, fmt.Errorf("final read of order %s: %w", orderID, err)
	}
	return order, nil
}

func (m *Machine) cancel(ctx context.Context, orderID string) {
	if err := m.broker.CancelOrder(ctx, orderID); err != nil {
		m.log.Error().Err(err).Str("order_id", orderID).Msg("cancel order")
	}
}

// Monitor evaluates the exit rules once. It returns the trade record when the
// position was closed on this tick. A record may come with a storage error when
// the sale succeeded but the snapshot could not be saved.
func (m *Machine) Monitor(ctx context.Context) (optional.Option[model.TradeRecord], error) {
	none := optional.None[model.TradeRecord]()

	m.mu.Lock()
	defer m.mu.Unlock()

	// exits still run on the held position when the snapshot is unavailable
	syncErr := m.sync(ctx)
	if syncErr != nil {
		m.log.Error().Err(syncErr).Msg("position state still unsaved")
	}

	_, held := m.view.get()
	if held == nil {
		return none, syncErr
	}
	pos := *held

	quote, err := m.broker.OptionMarketPrice(ctx, pos.OptionSymbol)
	if err != nil {
		return none, fmt.Errorf("option price for %s: %w", pos.OptionSymbol, err)
	}
	price, err := quote.Take()
	if err != nil {
		m.log.Debug().Str("option", pos.OptionSymbol).Msg("no option price, skipping tick")
		return none, syncErr
	}

	now := m.Now()
	pnl := pos.PnLPct(price)
	m.log.Debug().Str("option", pos.OptionSymbol).Float64("price", price).Float64("pnl_pct", pnl).Msg("position check")

	reason, exit := m.exitReason(ctx, pos, pnl, now)
	if !exit {
		return none, syncErr
	}
	m.log.Info().Str("option", pos.OptionSymbol).Str("reason", reason).Float64("pnl_pct", pnl).Msg("exit triggered")

	return m.closeLocked(ctx, pos, price, reason, now)
}

// exitReason applies the exit rules in priority order.
func (m *Machine) exitReason(ctx context.Context, pos model.OpenPosition, pnl float64, now time.Time) (string, bool) {
	if pnl >= m.cfg.ProfitTarget*100 {
		return model.ExitProfitTarget, true
	}
	if pnl <= -m.cfg.StopLoss*100 {
		return model.ExitStopLoss, true
	}
	if m.reversal != nil {
		rev, err := m.reversal.HasReversal(ctx, pos.Ticker, pos.Direction)
		if err != nil {
			m.log.Warn().Err(err).Str("ticker", pos.Ticker).Msg("reversal check failed")
		} else if rev {
			return model.ExitReversal, true
		}
	}
	if now.Sub(pos.EntryTime) >= time.Duration(m.cfg.TimeoutSeconds)*time.Second {
		return model.ExitTimeout, true
	}
	local := now.In(m.loc)
	if local.Hour()*60+local.Minute() >= m.eod.Minutes() {
		return model.ExitEndOfDay, true
	}
	return "", false
}

// ForceClose closes the open position regardless of the exit rules. The exit
// price falls back to the entry price when no quote is available.
func (m *Machine) ForceClose(ctx context.Context, reason string) (optional.Option[model.TradeRecord], error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	syncErr := m.sync(ctx)
	if syncErr != nil {
		m.log.Error().Err(syncErr).Msg("position state still unsaved")
	}
	_, held := m.view.get()
	if held == nil {
		m.log.Warn().Msg("no position to force close")
		return optional.None[model.TradeRecord](), syncErr
	}
	pos := *held

	price := pos.EntryPrice
	quote, err := m.broker.OptionMarketPrice(ctx, pos.OptionSymbol)
	if err != nil {
		m.log.Warn().Err(err).Str("option", pos.OptionSymbol).Msg("force close without quote")
	} else {
		price = quote.TakeOr(pos.EntryPrice)
	}

	m.log.Warn().Str("option", pos.OptionSymbol).Str("reason", reason).Msg("force closing position")
	return m.closeLocked(ctx, pos, price, reason, m.Now())
}

// closeLocked sells the position, writes the ledger row and clears the snapshot.
// A failed sell leaves the position open. Once the sell is accepted the trade is
// final: the record is returned even when the snapshot save fails, and the view
// stays Closing until a later save succeeds.
func (m *Machine) closeLocked(ctx context.Context, pos model.OpenPosition, price float64, reason string, now time.Time) (optional.Option[model.TradeRecord], error) {
	m.view.set(model.PhaseClosing, &pos)

	if _, err := m.broker.SubmitOrder(ctx, model.OrderRequest{
		Symbol:        pos.OptionSymbol,
		Qty:           pos.Contracts,
		Side:          model.SideSell,
		ClientOrderID: uuid.NewString(),
	}); err != nil {
		m.view.set(model.PhaseOpen, &pos)
		return optional.None[model.TradeRecord](), fmt.Errorf("submit exit order for %s: %w", pos.OptionSymbol, err)
	}

	rec := model.TradeRecord{
		Timestamp:  now,
		Ticker:     pos.Ticker,
		Direction:  pos.Direction,
		Strike:     pos.Strike,
		Expiration: pos.Expiration,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  price,
		Contracts:  pos.Contracts,
		PnLPct:     pos.PnLPct(price),
		ExitReason: reason,
	}

	m.view.set(model.PhaseClosing, nil)
	m.dirty = true
	if err := m.ledger.Append(ctx, rec); err != nil {
		m.log.Error().Err(err).Str("option", pos.OptionSymbol).Msg("ledger append failed, row kept pending")
		m.unsaved = append(m.unsaved, rec)
	}

	m.log.Info().Str("option", pos.OptionSymbol).Str("reason", reason).Float64("exit", price).
		Float64("pnl_pct", rec.PnLPct).Msg("position closed")
	m.alerts.PositionClosed(pos, rec)

	if err := m.save(ctx); err != nil {
		m.log.Error().Err(err).Str("option", pos.OptionSymbol).Msg("position sold but snapshot not cleared, retried next tick")
		return optional.Some(rec), err
	}
	return optional.Some(rec), nil
}

// save writes the view and any unsaved trades to the snapshot.
func (m *Machine) save(ctx context.Context) error {
	_, held := m.view.get()
	unsaved := m.unsaved
	if _, err := m.store.Update(ctx, func(s *model.Snapshot) error {
		s.OpenPosition = nil
		if held != nil {
			p := *held
			s.OpenPosition = &p
		}
		s.PendingRecords = append(s.PendingRecords, unsaved...)
		return nil
	}); err != nil {
		return err
	}
	m.dirty = false
	m.unsaved = nil
	m.view.settle(held)
	return nil
}

// sync retries a lagging snapshot save, then flushes pending ledger rows.
func (m *Machine) sync(ctx context.Context) error {
	if m.dirty {
		if err := m.save(ctx); err != nil {
			return err
		}
		m.log.Info().Msg("position state saved after earlier failure")
	}
	m.flushPending(ctx)
	return nil
}

// flushPending retries ledger rows whose append failed earlier, oldest first.
func (m *Machine) flushPending(ctx context.Context) {
	pending := m.store.Snapshot().PendingRecords
	written := 0
	for _, rec := range pending {
		if err := m.ledger.Append(ctx, rec); err != nil {
			m.log.Warn().Err(err).Int("pending", len(pending)-written).Msg("ledger still unavailable")
			break
		}
		written++
	}
	if written == 0 {
		return
	}
	if _, err := m.store.Update(ctx, func(s *model.Snapshot) error {
		s.PendingRecords = s.PendingRecords[written:]
		if len(s.PendingRecords) == 0 {
			s.PendingRecords = nil
		}
		return nil
	}); err != nil {
		m.log.Error().Err(err).Msg("clear flushed ledger rows")
		return
	}
	m.log.Info().Int("rows", written).Msg("pending ledger rows written")
}

// view is the phase and held position, readable while a transition holds Machine.mu.
type view struct {
	mu    sync.Mutex
	phase model.Phase
	pos   *model.OpenPosition
}

func (v *view) get() (model.Phase, *model.OpenPosition) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.pos == nil {
		return v.phase, nil
	}
	p := *v.pos
	return v.phase, &p
}

func (v *view) set(phase model.Phase, pos *model.OpenPosition) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.phase = phase
	v.pos = nil
	if pos != nil {
		p := *pos
		v.pos = &p
	}
}

// settle sets the resting phase for pos: Open when held, Flat otherwise.
func (v *view) settle(pos *model.OpenPosition) {
	if pos != nil {
		v.set(model.PhaseOpen, pos)
		return
	}
	v.set(model.PhaseFlat, nil)
}
