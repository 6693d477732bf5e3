package clob

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperclob/pkg/app/core/access"
	"github.com/uhyunpark/hyperclob/pkg/app/core/ledger"
	"github.com/uhyunpark/hyperclob/pkg/app/core/orders"
	"github.com/uhyunpark/hyperclob/pkg/app/core/settlement"
	"github.com/uhyunpark/hyperclob/pkg/app/core/transaction"
	"github.com/uhyunpark/hyperclob/pkg/crypto"
	"github.com/uhyunpark/hyperclob/pkg/custody"
	"github.com/uhyunpark/hyperclob/pkg/events"
	"github.com/uhyunpark/hyperclob/pkg/metrics"
	"github.com/uhyunpark/hyperclob/pkg/storage"
	"github.com/uhyunpark/hyperclob/pkg/util"
)

// Options wires an Exchange. Base, Quote, Custody and Genesis are required;
// everything else has a default.
type Options struct {
	Base    common.Address
	Quote   common.Address
	Custody custody.Custody

	// Genesis is written to an empty store. An existing config always wins.
	Genesis *access.Config

	LedgerAddress common.Address // EIP-712 verifyingContract
	ChainID       *big.Int

	Clock   util.Clock
	Logger  *zap.Logger
	Bus     *events.Bus
	Journal storage.Journal
	Metrics *metrics.Metrics
}

// Exchange is the single consistency boundary: every mutation runs under mu
// inside one pebble batch that commits or is discarded as a whole.
type Exchange struct {
	mu sync.Mutex

	store    *storage.Store
	ledger   *ledger.Ledger
	registry *orders.Registry
	executor *settlement.Executor
	gate     *access.Gate
	custody  custody.Custody

	clock   util.Clock
	logger  *zap.Logger
	bus     *events.Bus
	journal storage.Journal
	metrics *metrics.Metrics
}

// op is the per-operation scratch state threaded through update.
type op struct {
	txn        *storage.Txn
	cfg        *access.Config
	now        time.Time
	evs        []events.Event
	compensate []func(context.Context) error
}

func (o *op) emit(ev events.Event) { o.evs = append(o.evs, ev) }

func New(store *storage.Store, opts Options) (*Exchange, error) {
	if opts.Custody == nil {
		return nil, errors.New("custody is required")
	}
	if opts.Base == opts.Quote {
		return nil, fmt.Errorf("%w: base and quote must differ", ledger.ErrUnsupportedAsset)
	}
	if opts.Clock == nil {
		opts.Clock = util.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Bus == nil {
		opts.Bus = events.NewBus()
	}
	if opts.Journal == nil {
		opts.Journal = storage.NewNopJournal()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.ChainID == nil {
		opts.ChainID = big.NewInt(1)
	}

	l := ledger.New(opts.Base, opts.Quote, opts.Custody)
	reg := orders.NewRegistry(l, opts.Clock)
	domain := crypto.ForwarderDomain(opts.ChainID, opts.LedgerAddress)

	e := &Exchange{
		store:    store,
		ledger:   l,
		registry: reg,
		executor: settlement.NewExecutor(l, reg),
		gate:     access.NewGate(transaction.NewVerifier(domain), opts.Clock),
		custody:  opts.Custody,
		clock:    opts.Clock,
		logger:   opts.Logger,
		bus:      opts.Bus,
		journal:  opts.Journal,
		metrics:  opts.Metrics,
	}
	if err := e.initConfig(opts.Genesis); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Exchange) initConfig(genesis *access.Config) error {
	txn := e.store.Begin()
	defer txn.Discard()

	cfg, ok, err := access.LoadConfig(txn)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if ok {
		e.logger.Info("config_loaded",
			zap.String("owner", cfg.Owner.Hex()),
			zap.Uint16("fee_bps", cfg.FeeBps),
			zap.Int("matchers", len(cfg.Matchers)),
		)
		return nil
	}
	if genesis == nil {
		return errors.New("empty store and no genesis config")
	}
	if err := access.SaveConfig(txn, genesis); err != nil {
		return fmt.Errorf("genesis config: %w", err)
	}
	if err := txn.Commit(); err != nil {
		return fmt.Errorf("commit genesis: %w", err)
	}
	e.logger.Info("genesis_written",
		zap.String("owner", genesis.Owner.Hex()),
		zap.Uint16("fee_bps", genesis.FeeBps),
		zap.String("fee_recipient", genesis.FeeRecipient.Hex()),
		zap.Int("matchers", len(genesis.Matchers)),
		zap.String("trusted_relay", genesis.TrustedRelay.Hex()),
	)
	return nil
}

// Domain returns the EIP-712 domain relay envelopes must be signed under.
func (e *Exchange) Domain() crypto.Domain {
	return e.gate.Domain()
}

func (e *Exchange) Base() common.Address  { return e.ledger.Base() }
func (e *Exchange) Quote() common.Address { return e.ledger.Quote() }

// update runs fn as one atomic transition. Events collected by fn are
// published only after the batch commits.
func (e *Exchange) update(ctx context.Context, name string, fn func(o *op) error) (err error) {
	if custody.InTransfer(ctx) {
		return fmt.Errorf("%w: %s called during a custody transfer", ledger.ErrReentrant, name)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	defer func() { e.metrics.Observe(name, err, isRejection) }()

	txn := e.store.Begin()
	defer txn.Discard()

	cfg, ok, err := access.LoadConfig(txn)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if !ok {
		return errors.New("config missing")
	}

	o := &op{txn: txn, cfg: cfg, now: e.clock.Now()}
	if err := fn(o); err != nil {
		e.rollback(ctx, name, o)
		if isRejection(err) {
			e.logger.Debug("operation_rejected", zap.String("op", name), zap.Error(err))
		} else {
			e.logger.Error("operation_failed", zap.String("op", name), zap.Error(err))
		}
		return err
	}
	if err := txn.Commit(); err != nil {
		e.logger.Error("commit_failed", zap.String("op", name), zap.Error(err))
		e.rollback(ctx, name, o)
		return fmt.Errorf("commit %s: %w", name, err)
	}

	e.publish(ctx, o.evs)
	return nil
}

// rollback reverses custody transfers that already happened in o.
func (e *Exchange) rollback(ctx context.Context, name string, o *op) {
	for i := len(o.compensate) - 1; i >= 0; i-- {
		if err := o.compensate[i](custody.WithTransfer(ctx)); err != nil {
			e.logger.Error("compensation_failed", zap.String("op", name), zap.Error(err))
		}
	}
}

func (e *Exchange) publish(ctx context.Context, evs []events.Event) {
	for _, ev := range evs {
		e.metrics.Event(string(ev.Kind))
		switch p := ev.Data.(type) {
		case events.OrderPlaced:
			e.metrics.OrderOpened()
		case events.OrderCancelled:
			e.metrics.OrderClosed()
		case events.OrderFilled:
			if p.Status == orders.StatusFilled.String() {
				e.metrics.OrderClosed()
			}
		case events.TradeSettled:
			e.metrics.Fill()
		}

		line, err := ev.JSON()
		if err == nil {
			err = e.journal.Append(string(line))
		}
		if err != nil {
			e.logger.Warn("journal_append_failed", zap.String("id", ev.ID), zap.Error(err))
		}
	}
	e.bus.Publish(ctx, evs)
}

// view runs fn against the committed state.
func (e *Exchange) view(ctx context.Context, fn func(txn *storage.Txn) error) error {
	if custody.InTransfer(ctx) {
		return fmt.Errorf("%w: read during a custody transfer", ledger.ErrReentrant)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.View(fn)
}

var rejections = []error{
	ledger.ErrInsufficientAvailable,
	ledger.ErrInvalidOrderState,
	ledger.ErrInvalidPriceCross,
	ledger.ErrAmountExceedsRemaining,
	ledger.ErrUnauthorized,
	ledger.ErrExpired,
	ledger.ErrBadSignature,
	ledger.ErrAlreadyProcessed,
	ledger.ErrTransferFailed,
	ledger.ErrOrderNotFound,
	ledger.ErrInvalidAmount,
	ledger.ErrInvalidPrice,
	ledger.ErrInvalidFee,
	ledger.ErrInvalidAddress,
	ledger.ErrUnsupportedAsset,
	ledger.ErrReentrant,
	ledger.ErrInvalidCall,
}

// isRejection reports whether err is an expected business failure rather
// than an internal fault.
func isRejection(err error) bool {
	for _, target := range rejections {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func amountString(x *uint256.Int) string {
	if x == nil {
		return "0"
	}
	return x.Dec()
}
