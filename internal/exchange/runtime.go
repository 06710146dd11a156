// Package exchange is the engine runtime: it owns the set of per-symbol
// matching engines, routes each order operation to the scheduler worker
// that owns the symbol's engine, tracks share ownership for pre-trade
// sufficiency checks, and mediates result delivery between caller and
// worker.
//
// Threading contract: one producer goroutine per Runtime. Order
// operations stage jobs; ExecuteBatch makes them visible to the workers.
// Book queries run on the caller's goroutine and are safe only while the
// owning worker is idle — check StockCompleted or query between blocking
// batches. Ownership and position state is internally locked and safe to
// read at any time.
package exchange

import (
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/shopspring/decimal"

	"backsim/internal/arena"
	"backsim/internal/engine"
	"backsim/internal/sched"
)

var (
	ErrUnknownSymbol      = errors.New("symbol is not registered")
	ErrDuplicateSymbol    = errors.New("symbol is already registered")
	ErrInvalidArgument    = errors.New("price and quantity must be positive")
	ErrInsufficientShares = errors.New("insufficient shares to sell")
	ErrArenaFull          = errors.New("job argument arena exhausted; flush the batch or raise BatchSize")
	ErrUnknownOrder       = errors.New("order not found")
	ErrEmptySide          = errors.New("book side is empty")
	ErrNoTrades           = errors.New("no trades yet")
)

type opKind uint8

const (
	opPlace opKind = iota
	opCancel
	opEdit
)

// orderArgs is the per-job argument record. It lives in the owning
// worker's arena and is freed by the job's cleanup.
type orderArgs struct {
	eng     *engine.Engine
	symbol  string
	op      opKind
	side    engine.Side
	typ     engine.OrderType
	price   engine.Price
	qty     decimal.Decimal
	orderID engine.OrderID
	user    UserID
	idCell  *IDCell
	okCell  *BoolCell
}

// listing is one registered symbol: its engine, the worker that owns it,
// and the auto-flush counter.
type listing struct {
	eng       *engine.Engine
	engineID  uint32
	worker    sched.WorkerID
	ipoShares decimal.Decimal
	pending   int
}

// DepthEntry is one market-depth rung with the price rendered as a
// decimal amount.
type DepthEntry struct {
	Price decimal.Decimal
	Qty   decimal.Decimal
}

// Runtime is the registry and dispatcher. Construct with New, release
// with Close. Reset makes a Runtime reusable across test cases.
type Runtime struct {
	cfg   Config
	sched *sched.Scheduler

	arenas []*arena.Arena[orderArgs]
	// stockMu guards the registry map itself so monitors (TUI, strategy
	// dispatch) can resolve symbols while the producer registers or
	// removes them. It does not make order submission multi-producer
	// safe; see the package doc.
	stockMu sync.RWMutex
	stocks  map[string]*listing
	ledger  *ledger

	nextEngineID uint32
	batchSize    int
	blocking     bool
	verbose      atomic.Bool

	console engine.ConsoleSink
	notes   chan engine.Notification
	dropped atomic.Int64

	closeOnce sync.Once
}

// New constructs a runtime. Non-positive Workers, DefaultCapacity,
// QueueCapacity and NoteBuffer, and a negative PriceDecimals, fall back to
// DefaultConfig values. A zero PriceDecimals (whole-unit ticks), a zero
// BatchSize (manual batching) and the boolean fields are used as given.
func New(cfg Config) *Runtime {
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.DefaultCapacity <= 0 {
		cfg.DefaultCapacity = def.DefaultCapacity
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = def.QueueCapacity
	}
	if cfg.PriceDecimals < 0 {
		cfg.PriceDecimals = def.PriceDecimals
	}
	if cfg.NoteBuffer <= 0 {
		cfg.NoteBuffer = def.NoteBuffer
	}

	argCapacity := cfg.BatchSize
	if argCapacity <= 0 {
		argCapacity = cfg.DefaultCapacity
	}

	r := &Runtime{
		cfg:       cfg,
		sched:     sched.New(cfg.Workers, cfg.QueueCapacity),
		arenas:    make([]*arena.Arena[orderArgs], cfg.Workers),
		stocks:    map[string]*listing{},
		ledger:    newLedger(),
		batchSize: cfg.BatchSize,
		blocking:  cfg.Blocking,
		console:   engine.ConsoleSink{W: os.Stdout},
		notes:     make(chan engine.Notification, cfg.NoteBuffer),
	}
	for i := range r.arenas {
		r.arenas[i] = arena.New[orderArgs](argCapacity)
	}
	r.verbose.Store(cfg.Verbose)
	return r
}

// dispatch is the sink every engine publishes into: ledger first (it
// must see every event), console when verbose, then the external channel
// (dropping on overflow).
func (r *Runtime) dispatch(n engine.Notification) {
	r.ledger.apply(n)
	if r.verbose.Load() {
		r.console.Publish(n)
	}
	select {
	case r.notes <- n:
	default:
		r.dropped.Add(1)
	}
}

func (r *Runtime) logf(format string, args ...any) {
	if r.verbose.Load() {
		log.Printf(format, args...)
	}
}

// RegisterStock lists a symbol and posts the IPO ask (owned by user 0)
// synchronously — no worker owns the engine until a job is submitted for
// it. capacity <= 0 uses the configured default.
func (r *Runtime) RegisterStock(symbol string, ipoPrice, ipoQty decimal.Decimal, capacity int) error {
	if !ipoPrice.IsPositive() || !ipoQty.IsPositive() {
		return fmt.Errorf("register %s: %w", symbol, ErrInvalidArgument)
	}
	r.stockMu.Lock()
	defer r.stockMu.Unlock()
	if _, exists := r.stocks[symbol]; exists {
		return fmt.Errorf("register %s: %w", symbol, ErrDuplicateSymbol)
	}
	if capacity <= 0 {
		capacity = r.cfg.DefaultCapacity
	}

	eng := engine.New(symbol, capacity, r.cfg.PriceDecimals, true, engine.SinkFunc(r.dispatch))
	engineID := r.nextEngineID
	r.nextEngineID++

	lst := &listing{
		eng:       eng,
		engineID:  engineID,
		worker:    sched.WorkerID(int(engineID) % r.cfg.Workers),
		ipoShares: ipoQty,
	}
	r.stocks[symbol] = lst

	r.ledger.grant(IPOHolder, symbol, ipoQty)
	r.ledger.tryReserve(IPOHolder, symbol, ipoQty)
	r.ledger.assign(IPOHolder, symbol, eng.NextOrderID())

	id, err := eng.PlaceOrder(engine.SideAsk, engine.OrderTypeLimit, eng.PriceTicks(ipoPrice), ipoQty)
	if err != nil || id == engine.InvalidOrderID {
		delete(r.stocks, symbol)
		r.ledger.dropSymbol(symbol)
		if err == nil {
			err = errors.New("ipo order rejected")
		}
		return fmt.Errorf("register %s: ipo order failed: %w", symbol, err)
	}

	r.logf("[RUNTIME] registered %s with IPO %s shares @ %s (owned by user %d)",
		symbol, ipoQty, ipoPrice, IPOHolder)
	return nil
}

// UnregisterStock drains the symbol's worker, then removes the engine
// and every user's state for the symbol.
func (r *Runtime) UnregisterStock(symbol string) error {
	r.stockMu.Lock()
	defer r.stockMu.Unlock()
	lst, ok := r.stocks[symbol]
	if !ok {
		return fmt.Errorf("unregister %s: %w", symbol, ErrUnknownSymbol)
	}
	r.sched.ProcessJobsOn(lst.worker)
	delete(r.stocks, symbol)
	r.ledger.dropSymbol(symbol)
	r.logf("[RUNTIME] unregistered %s", symbol)
	return nil
}

// Reset drains all workers and clears every engine, position, the engine
// id counter and every arena. Batch mode, batch size, verbosity, the
// dropped-notification count and any notifications still buffered in the
// external channel are left as they are.
func (r *Runtime) Reset() {
	r.sched.ProcessJobs()
	r.stockMu.Lock()
	defer r.stockMu.Unlock()
	r.stocks = map[string]*listing{}
	r.ledger.reset()
	r.nextEngineID = 0
	for _, a := range r.arenas {
		a.Reset()
	}
	r.logf("[RUNTIME] reset complete")
}

func (r *Runtime) failID(res *IDCell, err error) error {
	if res != nil {
		res.Set(engine.InvalidOrderID)
	}
	r.logf("[RUNTIME] order error: %v", err)
	return err
}

func (r *Runtime) failBool(res *BoolCell, err error) error {
	if res != nil {
		res.Set(false)
	}
	r.logf("[RUNTIME] order error: %v", err)
	return err
}

// LimitOrder stages a limit placement for symbol. Validation runs now on
// the caller's goroutine (and, for asks, reserves the shares); the
// engine call runs on the owning worker after the batch is flushed, and
// the resulting order id lands in res.
func (r *Runtime) LimitOrder(symbol string, side engine.Side, price, qty decimal.Decimal, res *IDCell, user UserID) error {
	lst, err := r.lookup(symbol)
	if err != nil {
		return r.failID(res, fmt.Errorf("limit order %w", err))
	}
	if !price.IsPositive() || !qty.IsPositive() {
		return r.failID(res, fmt.Errorf("limit order %s: %w", symbol, ErrInvalidArgument))
	}
	reserved := false
	if side == engine.SideAsk {
		if !r.ledger.tryReserve(user, symbol, qty) {
			return r.failID(res, fmt.Errorf("limit order %s: user %d selling %s: %w",
				symbol, user, qty, ErrInsufficientShares))
		}
		reserved = true
	}
	return r.submit(lst, orderArgs{
		eng:    lst.eng,
		symbol: symbol,
		op:     opPlace,
		side:   side,
		typ:    engine.OrderTypeLimit,
		price:  lst.eng.PriceTicks(price),
		qty:    qty,
		user:   user,
		idCell: res,
	}, reserved)
}

// MarketOrder stages a market placement. The price is taken from the
// opposing best at execution time.
func (r *Runtime) MarketOrder(symbol string, side engine.Side, qty decimal.Decimal, res *IDCell, user UserID) error {
	lst, err := r.lookup(symbol)
	if err != nil {
		return r.failID(res, fmt.Errorf("market order %w", err))
	}
	if !qty.IsPositive() {
		return r.failID(res, fmt.Errorf("market order %s: %w", symbol, ErrInvalidArgument))
	}
	reserved := false
	if side == engine.SideAsk {
		if !r.ledger.tryReserve(user, symbol, qty) {
			return r.failID(res, fmt.Errorf("market order %s: user %d selling %s: %w",
				symbol, user, qty, ErrInsufficientShares))
		}
		reserved = true
	}
	return r.submit(lst, orderArgs{
		eng:    lst.eng,
		symbol: symbol,
		op:     opPlace,
		side:   side,
		typ:    engine.OrderTypeMarket,
		qty:    qty,
		user:   user,
		idCell: res,
	}, reserved)
}

// CancelOrder stages a cancel; the success flag lands in res.
func (r *Runtime) CancelOrder(symbol string, id engine.OrderID, res *BoolCell, user UserID) error {
	lst, err := r.lookup(symbol)
	if err != nil {
		return r.failBool(res, fmt.Errorf("cancel order %w", err))
	}
	return r.submit(lst, orderArgs{
		eng:     lst.eng,
		symbol:  symbol,
		op:      opCancel,
		orderID: id,
		user:    user,
		okCell:  res,
	}, false)
}

// EditOrder stages a modify (cancel and re-insert under the same id with
// a fresh time priority). Like the source, edits bypass the share
// sufficiency check.
func (r *Runtime) EditOrder(symbol string, id engine.OrderID, side engine.Side, price, qty decimal.Decimal, res *IDCell) error {
	lst, err := r.lookup(symbol)
	if err != nil {
		return r.failID(res, fmt.Errorf("edit order %w", err))
	}
	if !price.IsPositive() || !qty.IsPositive() {
		return r.failID(res, fmt.Errorf("edit order %s: %w", symbol, ErrInvalidArgument))
	}
	return r.submit(lst, orderArgs{
		eng:     lst.eng,
		symbol:  symbol,
		op:      opEdit,
		side:    side,
		price:   lst.eng.PriceTicks(price),
		qty:     qty,
		orderID: id,
		idCell:  res,
	}, false)
}

// submit allocates the args record in the owning worker's arena, builds
// the job, and stages it. reserved marks an ask reservation to back out
// if staging fails.
func (r *Runtime) submit(lst *listing, args orderArgs, reserved bool) error {
	ar := r.arenas[lst.worker]
	idx := ar.Alloc(args)
	if idx == arena.None {
		if reserved {
			r.ledger.release(args.user, args.symbol, args.qty)
		}
		err := fmt.Errorf("%s: %w", args.symbol, ErrArenaFull)
		if args.idCell != nil {
			return r.failID(args.idCell, err)
		}
		return r.failBool(args.okCell, err)
	}

	r.sched.Submit(sched.Job{
		Execute: func() { r.runJob(ar, idx) },
		Cleanup: func() { ar.Free(idx) },
		OwnerID: lst.engineID,
	})

	if r.batchSize > 0 {
		lst.pending++
		if lst.pending >= r.batchSize {
			r.flushWorker(lst.worker)
		}
	}
	return nil
}

// runJob executes one staged operation on the owning worker.
func (r *Runtime) runJob(ar *arena.Arena[orderArgs], idx arena.Index) {
	a := ar.At(idx)
	switch a.op {
	case opPlace:
		// Attribute the id before the engine runs so fills emitted
		// during placement resolve their owner.
		next := a.eng.NextOrderID()
		r.ledger.assign(a.user, a.symbol, next)
		id, err := a.eng.PlaceOrder(a.side, a.typ, a.price, a.qty)
		if err != nil {
			if errors.Is(err, engine.ErrEngineFull) {
				r.ledger.unassign(a.user, a.symbol, next)
				if a.side == engine.SideAsk {
					r.ledger.release(a.user, a.symbol, a.qty)
				}
			}
			r.logf("[RUNTIME] place order %s: %v", a.symbol, err)
		}
		if a.idCell != nil {
			a.idCell.Set(id)
		}

	case opCancel:
		ok, err := a.eng.CancelOrder(a.orderID)
		if err != nil {
			r.logf("[RUNTIME] cancel order %s/%d: %v", a.symbol, a.orderID, err)
		}
		if a.okCell != nil {
			a.okCell.Set(ok)
		}

	case opEdit:
		id, err := a.eng.EditOrder(a.orderID, a.side, a.price, a.qty)
		if err != nil {
			r.logf("[RUNTIME] edit order %s/%d: %v", a.symbol, a.orderID, err)
		}
		if a.idCell != nil {
			a.idCell.Set(id)
		}
	}
}

func (r *Runtime) flushWorker(w sched.WorkerID) {
	if r.blocking {
		r.sched.ProcessJobsOn(w)
	} else {
		r.sched.ProcessJobsOnAsync(w)
	}
	r.stockMu.RLock()
	for _, lst := range r.stocks {
		if lst.worker == w {
			lst.pending = 0
		}
	}
	r.stockMu.RUnlock()
}

// ExecuteBatch flushes every worker's queue — blocking until drained in
// blocking mode, returning immediately otherwise — and resets the
// auto-flush counters.
func (r *Runtime) ExecuteBatch() {
	if r.blocking {
		r.sched.ProcessJobs()
	} else {
		r.sched.ProcessJobsAsync()
	}
	r.stockMu.RLock()
	for _, lst := range r.stocks {
		lst.pending = 0
	}
	r.stockMu.RUnlock()
}

// ExecuteBatchFor flushes only the worker owning the symbol's engine.
func (r *Runtime) ExecuteBatchFor(symbol string) error {
	lst, err := r.lookup(symbol)
	if err != nil {
		return fmt.Errorf("execute batch %w", err)
	}
	r.flushWorker(lst.worker)
	return nil
}

// WaitForJobs blocks until every queue is drained (for async mode).
func (r *Runtime) WaitForJobs() { r.sched.WaitForCompletion() }

// JobsCompleted reports whether every queue is empty.
func (r *Runtime) JobsCompleted() bool { return r.sched.IsComplete() }

// StockCompleted reports whether the symbol's worker has no pending or
// staged jobs. Book queries are race-free only when this holds.
func (r *Runtime) StockCompleted(symbol string) (bool, error) {
	lst, err := r.lookup(symbol)
	if err != nil {
		return false, fmt.Errorf("stock completed %w", err)
	}
	return r.sched.IsWorkerComplete(lst.worker), nil
}

func (r *Runtime) lookup(symbol string) (*listing, error) {
	r.stockMu.RLock()
	lst, ok := r.stocks[symbol]
	r.stockMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s: %w", symbol, ErrUnknownSymbol)
	}
	return lst, nil
}

// BestBid returns the highest resting bid as a decimal amount.
func (r *Runtime) BestBid(symbol string) (decimal.Decimal, error) {
	lst, err := r.lookup(symbol)
	if err != nil {
		return decimal.Decimal{}, err
	}
	p, ok := lst.eng.BestBid()
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("%s bids: %w", symbol, ErrEmptySide)
	}
	return lst.eng.PriceDecimal(p), nil
}

// BestAsk returns the lowest resting ask as a decimal amount.
func (r *Runtime) BestAsk(symbol string) (decimal.Decimal, error) {
	lst, err := r.lookup(symbol)
	if err != nil {
		return decimal.Decimal{}, err
	}
	p, ok := lst.eng.BestAsk()
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("%s asks: %w", symbol, ErrEmptySide)
	}
	return lst.eng.PriceDecimal(p), nil
}

// MarketPrice returns the symbol's last trade price.
func (r *Runtime) MarketPrice(symbol string) (decimal.Decimal, error) {
	lst, err := r.lookup(symbol)
	if err != nil {
		return decimal.Decimal{}, err
	}
	p, ok := lst.eng.MarketPrice()
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("%s: %w", symbol, ErrNoTrades)
	}
	return lst.eng.PriceDecimal(p), nil
}

// NumTrades returns the symbol's monotonic trade counter.
func (r *Runtime) NumTrades(symbol string) (uint64, error) {
	lst, err := r.lookup(symbol)
	if err != nil {
		return 0, err
	}
	return lst.eng.NumTrades(), nil
}

// Order returns the record of an order, including terminal ones.
func (r *Runtime) Order(symbol string, id engine.OrderID) (engine.OrderInfo, error) {
	lst, err := r.lookup(symbol)
	if err != nil {
		return engine.OrderInfo{}, err
	}
	ord, ok := lst.eng.Order(id)
	if !ok {
		return engine.OrderInfo{}, fmt.Errorf("%s/%d: %w", symbol, id, ErrUnknownOrder)
	}
	return ord, nil
}

// OrdersByStatus returns copies of the symbol's orders in a status.
func (r *Runtime) OrdersByStatus(symbol string, st engine.OrderStatus) ([]engine.OrderInfo, error) {
	lst, err := r.lookup(symbol)
	if err != nil {
		return nil, err
	}
	return lst.eng.OrdersByStatus(st), nil
}

// MarketDepth returns up to depth rungs of one side, best first, prices
// as decimal amounts.
func (r *Runtime) MarketDepth(symbol string, side engine.Side, depth int) ([]DepthEntry, error) {
	lst, err := r.lookup(symbol)
	if err != nil {
		return nil, err
	}
	levels := lst.eng.MarketDepth(side, depth)
	out := make([]DepthEntry, len(levels))
	for i, lvl := range levels {
		out[i] = DepthEntry{Price: lst.eng.PriceDecimal(lvl.Price), Qty: lvl.Qty}
	}
	return out, nil
}

// SetAutoMatch toggles the symbol's automatic matching pass.
func (r *Runtime) SetAutoMatch(symbol string, on bool) error {
	lst, err := r.lookup(symbol)
	if err != nil {
		return err
	}
	lst.eng.SetAutoMatch(on)
	return nil
}

// AutoMatch reports whether the symbol's auto-matching is on.
func (r *Runtime) AutoMatch(symbol string) (bool, error) {
	lst, err := r.lookup(symbol)
	if err != nil {
		return false, err
	}
	return lst.eng.AutoMatch(), nil
}

// IPOShares returns the share count issued when the symbol was
// registered.
func (r *Runtime) IPOShares(symbol string) (decimal.Decimal, error) {
	lst, err := r.lookup(symbol)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return lst.ipoShares, nil
}

// Engine returns the symbol's engine for read-only use (strategies).
func (r *Runtime) Engine(symbol string) (*engine.Engine, error) {
	lst, err := r.lookup(symbol)
	if err != nil {
		return nil, err
	}
	return lst.eng, nil
}

// Tickers returns the registered symbols, sorted.
func (r *Runtime) Tickers() []string {
	r.stockMu.RLock()
	out := make([]string, 0, len(r.stocks))
	for sym := range r.stocks {
		out = append(out, sym)
	}
	r.stockMu.RUnlock()
	sort.Strings(out)
	return out
}

// Positions returns the user's live order ids for a symbol.
func (r *Runtime) Positions(user UserID, symbol string) []engine.OrderID {
	return r.ledger.positions(user, symbol)
}

// PositionOf returns the user's held and reserved share quantities.
func (r *Runtime) PositionOf(user UserID, symbol string) Position {
	return r.ledger.position(user, symbol)
}

// HasSufficientShares reports whether the user could sell qty now:
// held minus reserved is at least qty. Monotonic in qty.
func (r *Runtime) HasSufficientShares(user UserID, symbol string, qty decimal.Decimal) bool {
	return !r.ledger.position(user, symbol).Available().LessThan(qty)
}

// Owner reports which user placed an order.
func (r *Runtime) Owner(symbol string, id engine.OrderID) (UserID, bool) {
	return r.ledger.owner(symbol, id)
}

// SetBlocking switches ExecuteBatch between waiting and async.
func (r *Runtime) SetBlocking(b bool) { r.blocking = b }

// Blocking reports the batch mode.
func (r *Runtime) Blocking() bool { return r.blocking }

// SetBatchSize changes the auto-flush threshold (0 disables) and clears
// the counters.
func (r *Runtime) SetBatchSize(n int) {
	r.batchSize = n
	r.stockMu.RLock()
	for _, lst := range r.stocks {
		lst.pending = 0
	}
	r.stockMu.RUnlock()
}

// BatchSize returns the auto-flush threshold.
func (r *Runtime) BatchSize() int { return r.batchSize }

// SetVerbose toggles console rendering of notifications.
func (r *Runtime) SetVerbose(v bool) { r.verbose.Store(v) }

// Verbose reports whether console rendering is on.
func (r *Runtime) Verbose() bool { return r.verbose.Load() }

// Notifications returns the external notification stream. It is bounded
// and drops on overflow; DroppedNotifications counts the losses. The
// channel closes when the runtime closes.
func (r *Runtime) Notifications() <-chan engine.Notification { return r.notes }

// DroppedNotifications returns how many notifications overflowed the
// external channel.
func (r *Runtime) DroppedNotifications() int64 { return r.dropped.Load() }

// WorkerCount returns the scheduler pool size.
func (r *Runtime) WorkerCount() int { return r.sched.WorkerCount() }

// Close drains and stops the scheduler, then closes the notification
// channel. The runtime must not be used afterwards.
func (r *Runtime) Close() {
	r.closeOnce.Do(func() {
		r.sched.Close()
		close(r.notes)
	})
}
