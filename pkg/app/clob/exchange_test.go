package clob

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/hyperclob/pkg/app/core/access"
	"github.com/uhyunpark/hyperclob/pkg/app/core/ledger"
	"github.com/uhyunpark/hyperclob/pkg/app/core/orders"
	"github.com/uhyunpark/hyperclob/pkg/app/core/settlement"
	"github.com/uhyunpark/hyperclob/pkg/app/core/transaction"
	"github.com/uhyunpark/hyperclob/pkg/crypto"
	"github.com/uhyunpark/hyperclob/pkg/custody"
	"github.com/uhyunpark/hyperclob/pkg/events"
	"github.com/uhyunpark/hyperclob/pkg/num"
	"github.com/uhyunpark/hyperclob/pkg/storage"
	"github.com/uhyunpark/hyperclob/pkg/util"
)

var (
	base       = common.HexToAddress("0xba5e")
	quote      = common.HexToAddress("0x9007e")
	owner      = common.HexToAddress("0x0e")
	matcher    = common.HexToAddress("0x3a7c")
	feeTo      = common.HexToAddress("0xfee")
	relayAddr  = common.HexToAddress("0x4e1a")
	alice      = common.HexToAddress("0xa11ce")
	bob        = common.HexToAddress("0xb0b")
	ledgerAddr = common.HexToAddress("0x00000000000000000000000000000000000c10b")
	chainID    = big.NewInt(1337)
	start      = time.Unix(1_800_000_000, 0)
)

func units(s string) *uint256.Int { return num.MustParseUnits(s) }

func genesis() *access.Config {
	return access.NewConfig(owner, 50, feeTo, []common.Address{matcher}, relayAddr)
}

type fixture struct {
	ex       *Exchange
	store    *storage.Store
	vault    *custody.Vault
	clock    *util.ManualClock
	recorder *events.Recorder
	ctx      context.Context
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := storage.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return newFixtureOn(t, s, genesis())
}

func newFixtureOn(t *testing.T, s *storage.Store, cfg *access.Config) *fixture {
	t.Helper()
	v := custody.NewVault(nil)
	for _, who := range []common.Address{alice, bob} {
		v.Fund(who, base, units("1000"))
		v.Fund(who, quote, units("1000"))
	}
	rec := &events.Recorder{}
	clock := util.NewManualClock(start)
	ex, err := New(s, Options{
		Base:          base,
		Quote:         quote,
		Custody:       v,
		Genesis:       cfg,
		LedgerAddress: ledgerAddr,
		ChainID:       chainID,
		Clock:         clock,
		Bus:           events.NewBus(rec),
	})
	require.NoError(t, err)
	return &fixture{ex: ex, store: s, vault: v, clock: clock, recorder: rec, ctx: context.Background()}
}

func (f *fixture) balance(t *testing.T, who, asset common.Address) ledger.Balance {
	t.Helper()
	bal, err := f.ex.Balance(f.ctx, who, asset)
	require.NoError(t, err)
	return bal
}

func (f *fixture) assertBalance(t *testing.T, who, asset common.Address, available, locked string) {
	t.Helper()
	bal := f.balance(t, who, asset)
	assert.Equal(t, units(available).Dec(), bal.Available.Dec(), "available")
	assert.Equal(t, units(locked).Dec(), bal.Locked.Dec(), "locked")
}

func (f *fixture) stateHash(t *testing.T) string {
	t.Helper()
	h, err := f.ex.StateHash(f.ctx)
	require.NoError(t, err)
	return h
}

// referenceBook places the buy 10 @ 2.0 and sell 10 @ 1.5 pair.
func (f *fixture) referenceBook(t *testing.T) (buy, sell *orders.Order) {
	t.Helper()
	require.NoError(t, f.ex.Deposit(f.ctx, alice, quote, units("490")))
	require.NoError(t, f.ex.Deposit(f.ctx, bob, base, units("20")))

	buy, err := f.ex.PlaceBuy(f.ctx, alice, units("2"), units("10"))
	require.NoError(t, err)
	sell, err = f.ex.PlaceSell(f.ctx, bob, units("1.5"), units("10"))
	require.NoError(t, err)
	return buy, sell
}

func TestReferenceSettlement(t *testing.T) {
	f := newFixture(t)
	buy, sell := f.referenceBook(t)
	f.assertBalance(t, alice, quote, "470", "20")
	f.assertBalance(t, bob, base, "10", "10")

	res, err := f.ex.MatchOrders(f.ctx, matcher, settlement.Match{
		BuyID: buy.ID, SellID: sell.ID, FillAmount: units("10"), ExecPrice: units("1.5"),
	})
	require.NoError(t, err)
	assert.Equal(t, units("15").Dec(), res.Breakdown.QuoteAmount.Dec())
	assert.Equal(t, units("0.075").Dec(), res.Breakdown.FeeAmount.Dec())
	assert.Equal(t, units("4.925").Dec(), res.Refund.Dec())

	f.assertBalance(t, alice, quote, "474.925", "0")
	f.assertBalance(t, alice, base, "10", "0")
	f.assertBalance(t, bob, quote, "15", "0")
	f.assertBalance(t, bob, base, "10", "0")
	f.assertBalance(t, feeTo, quote, "0.075", "0")

	for _, asset := range []common.Address{base, quote} {
		tot, err := f.ex.Totals(f.ctx, asset)
		require.NoError(t, err)
		assert.Equal(t, f.vault.Escrow(asset).Dec(), new(uint256.Int).Add(tot.Available, tot.Locked).Dec())
	}

	got, err := f.ex.Order(f.ctx, buy.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusFilled, got.Status)
	assert.True(t, got.LockedAmount.IsZero())

	assert.Equal(t, []events.Kind{
		events.KindDeposited,
		events.KindDeposited,
		events.KindOrderPlaced,
		events.KindOrderPlaced,
		events.KindOrderFilled,
		events.KindOrderFilled,
		events.KindTradeSettled,
	}, f.recorder.Kinds())

	_, err = f.ex.Cancel(f.ctx, alice, buy.ID)
	assert.ErrorIs(t, err, ledger.ErrInvalidOrderState)
}

func TestMatchByNonMatcherChangesNothing(t *testing.T) {
	f := newFixture(t)
	buy, sell := f.referenceBook(t)
	before := f.stateHash(t)
	f.recorder.Reset()

	for _, caller := range []common.Address{alice, owner, relayAddr} {
		_, err := f.ex.MatchOrders(f.ctx, caller, settlement.Match{
			BuyID: buy.ID, SellID: sell.ID, FillAmount: units("10"), ExecPrice: units("1.5"),
		})
		assert.ErrorIs(t, err, ledger.ErrUnauthorized)
	}
	assert.Equal(t, before, f.stateHash(t))
	assert.Empty(t, f.recorder.Events())
}

func TestMatchRejectionsChangeNothing(t *testing.T) {
	f := newFixture(t)
	buy, sell := f.referenceBook(t)
	before := f.stateHash(t)

	cases := []struct {
		name string
		m    settlement.Match
		want error
	}{
		{"below sell limit", settlement.Match{BuyID: buy.ID, SellID: sell.ID, FillAmount: units("1"), ExecPrice: units("1.4")}, ledger.ErrInvalidPriceCross},
		{"above buy limit", settlement.Match{BuyID: buy.ID, SellID: sell.ID, FillAmount: units("1"), ExecPrice: units("2.01")}, ledger.ErrInvalidPriceCross},
		{"overfill", settlement.Match{BuyID: buy.ID, SellID: sell.ID, FillAmount: units("11"), ExecPrice: units("1.5")}, ledger.ErrAmountExceedsRemaining},
		{"zero fill", settlement.Match{BuyID: buy.ID, SellID: sell.ID, FillAmount: num.Zero(), ExecPrice: units("1.5")}, ledger.ErrAmountExceedsRemaining},
		{"swapped sides", settlement.Match{BuyID: sell.ID, SellID: buy.ID, FillAmount: units("1"), ExecPrice: units("1.5")}, ledger.ErrInvalidOrderState},
		{"missing order", settlement.Match{BuyID: 99, SellID: sell.ID, FillAmount: units("1"), ExecPrice: units("1.5")}, ledger.ErrInvalidOrderState},
		{"missing price", settlement.Match{BuyID: buy.ID, SellID: sell.ID, FillAmount: units("1")}, ledger.ErrInvalidCall},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.ex.MatchOrders(f.ctx, matcher, tc.m)
			assert.ErrorIs(t, err, tc.want)
			assert.Equal(t, before, f.stateHash(t))
		})
	}
}

func TestPriceBandBoundaries(t *testing.T) {
	for _, price := range []string{"1.5", "2"} {
		t.Run(price, func(t *testing.T) {
			f := newFixture(t)
			buy, sell := f.referenceBook(t)
			_, err := f.ex.MatchOrders(f.ctx, matcher, settlement.Match{
				BuyID: buy.ID, SellID: sell.ID, FillAmount: units("10"), ExecPrice: units(price),
			})
			require.NoError(t, err)
			f.assertBalance(t, alice, base, "10", "0")
		})
	}
}

func TestCancelRefundsLock(t *testing.T) {
	f := newFixture(t)
	buy, sell := f.referenceBook(t)

	_, err := f.ex.Cancel(f.ctx, bob, buy.ID)
	assert.ErrorIs(t, err, ledger.ErrUnauthorized)
	_, err = f.ex.Cancel(f.ctx, alice, 42)
	assert.ErrorIs(t, err, ledger.ErrOrderNotFound)

	_, err = f.ex.MatchOrders(f.ctx, matcher, settlement.Match{
		BuyID: buy.ID, SellID: sell.ID, FillAmount: units("4"), ExecPrice: units("2"),
	})
	require.NoError(t, err)

	// 4 filled at the limit: 8 quote + 0.04 fee, the fee shortfall comes from available
	f.assertBalance(t, alice, quote, "469.96", "12")

	got, err := f.ex.Cancel(f.ctx, alice, buy.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusCancelled, got.Status)
	f.assertBalance(t, alice, quote, "481.96", "0")

	got, err = f.ex.Cancel(f.ctx, bob, sell.ID)
	require.NoError(t, err)
	f.assertBalance(t, bob, base, "16", "0")
	assert.Equal(t, units("6").Dec(), got.RemainingAmount.Dec())

	_, err = f.ex.Cancel(f.ctx, bob, sell.ID)
	assert.ErrorIs(t, err, ledger.ErrInvalidOrderState)

	open, err := f.ex.OrdersByOwner(f.ctx, alice, true)
	require.NoError(t, err)
	assert.Empty(t, open)
	all, err := f.ex.OrdersByOwner(f.ctx, alice, false)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestPlaceValidation(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ex.Deposit(f.ctx, alice, quote, units("10")))

	_, err := f.ex.PlaceBuy(f.ctx, alice, units("1"), num.Zero())
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)
	_, err = f.ex.PlaceBuy(f.ctx, alice, nil, units("1"))
	assert.ErrorIs(t, err, ledger.ErrInvalidPrice)
	_, err = f.ex.PlaceBuy(f.ctx, alice, units("2"), units("6"))
	assert.ErrorIs(t, err, ledger.ErrInsufficientAvailable)
	_, err = f.ex.PlaceSell(f.ctx, alice, units("2"), units("1"))
	assert.ErrorIs(t, err, ledger.ErrInsufficientAvailable)

	f.assertBalance(t, alice, quote, "10", "0")
	all, err := f.ex.OrdersByOwner(f.ctx, alice, false)
	require.NoError(t, err)
	assert.Empty(t, all)

	o, err := f.ex.PlaceBuy(f.ctx, alice, units("2"), units("5"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), o.ID)
	f.assertBalance(t, alice, quote, "0", "10")
}

func TestDepositWithdraw(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ex.Deposit(f.ctx, alice, quote, units("100")))
	assert.Equal(t, units("900").Dec(), f.vault.BalanceOf(alice, quote).Dec())

	err := f.ex.Withdraw(f.ctx, alice, quote, units("101"))
	assert.ErrorIs(t, err, ledger.ErrInsufficientAvailable)

	err = f.ex.Deposit(f.ctx, alice, quote, units("5000"))
	assert.ErrorIs(t, err, ledger.ErrTransferFailed)

	err = f.ex.Deposit(f.ctx, alice, common.HexToAddress("0xdead"), units("1"))
	assert.ErrorIs(t, err, ledger.ErrUnsupportedAsset)

	require.NoError(t, f.ex.Withdraw(f.ctx, alice, quote, units("40")))
	f.assertBalance(t, alice, quote, "60", "0")
	assert.Equal(t, units("940").Dec(), f.vault.BalanceOf(alice, quote).Dec())
}

func TestWithdrawPushFailureKeepsBalance(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ex.Deposit(f.ctx, alice, quote, units("100")))
	f.recorder.Reset()

	f.vault.SetHook(func(_ context.Context, op string, _, _ common.Address, _ *uint256.Int) error {
		if op == "push" {
			return custody.ErrRejected
		}
		return nil
	})
	err := f.ex.Withdraw(f.ctx, alice, quote, units("40"))
	assert.ErrorIs(t, err, ledger.ErrTransferFailed)
	f.assertBalance(t, alice, quote, "100", "0")
	assert.Empty(t, f.recorder.Events())
}

func TestReentrantCallsAreRejected(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ex.Deposit(f.ctx, alice, quote, units("100")))

	var inner []error
	f.vault.SetHook(func(ctx context.Context, _ string, who, asset common.Address, amount *uint256.Int) error {
		inner = append(inner, f.ex.Withdraw(ctx, who, asset, amount))
		_, err := f.ex.Balance(ctx, who, asset)
		inner = append(inner, err)
		return nil
	})

	require.NoError(t, f.ex.Withdraw(f.ctx, alice, quote, units("100")))
	require.Len(t, inner, 2)
	for _, err := range inner {
		assert.ErrorIs(t, err, ledger.ErrReentrant)
	}
	f.assertBalance(t, alice, quote, "0", "0")
	assert.Equal(t, units("1000").Dec(), f.vault.BalanceOf(alice, quote).Dec())
}

func TestConfigurationIsOwnerOnly(t *testing.T) {
	f := newFixture(t)

	assert.ErrorIs(t, f.ex.SetFeeBps(f.ctx, alice, 10), ledger.ErrUnauthorized)
	assert.ErrorIs(t, f.ex.SetFeeBps(f.ctx, owner, 10001), ledger.ErrInvalidFee)
	assert.ErrorIs(t, f.ex.SetFeeRecipient(f.ctx, owner, common.Address{}), ledger.ErrInvalidAddress)

	require.NoError(t, f.ex.SetFeeBps(f.ctx, owner, 30))
	require.NoError(t, f.ex.SetFeeRecipient(f.ctx, owner, bob))
	require.NoError(t, f.ex.SetMatcherAllowed(f.ctx, owner, alice, true))
	require.NoError(t, f.ex.SetTrustedRelay(f.ctx, owner, common.Address{}))
	require.NoError(t, f.ex.TransferOwnership(f.ctx, owner, alice))
	assert.ErrorIs(t, f.ex.SetFeeBps(f.ctx, owner, 1), ledger.ErrUnauthorized)

	cfg, err := f.ex.Config(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, uint16(30), cfg.FeeBps)
	assert.Equal(t, bob, cfg.FeeRecipient)
	assert.True(t, cfg.IsMatcher(alice))
	assert.False(t, cfg.HasRelay())
	assert.Equal(t, alice, cfg.Owner)

	evs := f.recorder.Events()
	require.Len(t, evs, 5)
	for _, ev := range evs {
		assert.Equal(t, events.KindConfigUpdated, ev.Kind)
	}
	assert.Equal(t, events.ConfigUpdated{Field: "fee_bps", Value: "30"}, evs[0].Data)
}

func TestGenesisOnlyOnEmptyStore(t *testing.T) {
	s, err := storage.OpenInMemory()
	require.NoError(t, err)
	defer s.Close()

	f := newFixtureOn(t, s, genesis())
	require.NoError(t, f.ex.SetFeeBps(f.ctx, owner, 7))

	other := access.NewConfig(alice, 99, alice, nil, common.Address{})
	f2 := newFixtureOn(t, s, other)
	cfg, err := f2.ex.Config(f2.ctx)
	require.NoError(t, err)
	assert.Equal(t, owner, cfg.Owner)
	assert.Equal(t, uint16(7), cfg.FeeBps)

	empty, err := storage.OpenInMemory()
	require.NoError(t, err)
	defer empty.Close()
	_, err = New(empty, Options{Base: base, Quote: quote, Custody: custody.NewVault(nil)})
	assert.Error(t, err)
	_, err = New(empty, Options{Base: base, Quote: base, Custody: custody.NewVault(nil), Genesis: genesis()})
	assert.ErrorIs(t, err, ledger.ErrUnsupportedAsset)
}

func TestStateHashDeterministic(t *testing.T) {
	run := func() string {
		f := newFixture(t)
		buy, sell := f.referenceBook(t)
		_, err := f.ex.MatchOrders(f.ctx, matcher, settlement.Match{
			BuyID: buy.ID, SellID: sell.ID, FillAmount: units("3"), ExecPrice: units("1.75"),
		})
		require.NoError(t, err)
		return f.stateHash(t)
	}
	a, b := run(), run()
	assert.Equal(t, a, b)
	assert.Len(t, a, 66)

	f := newFixture(t)
	assert.NotEqual(t, a, f.stateHash(t))
}

func TestJournalRecordsCommittedEvents(t *testing.T) {
	s, err := storage.OpenInMemory()
	require.NoError(t, err)
	defer s.Close()

	path := filepath.Join(t.TempDir(), "events.jsonl")
	j, err := storage.NewFileJournal(path)
	require.NoError(t, err)

	ex, err := New(s, Options{
		Base: base, Quote: quote, Custody: fundedVault(), Genesis: genesis(), Journal: j,
	})
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, ex.Deposit(ctx, alice, quote, units("1")))
	assert.Error(t, ex.Withdraw(ctx, alice, quote, units("2")))
	require.NoError(t, ex.Withdraw(ctx, alice, quote, units("1")))
	require.NoError(t, j.Close())

	fh, err := os.Open(path)
	require.NoError(t, err)
	defer fh.Close()
	var kinds []string
	sc := bufio.NewScanner(fh)
	for sc.Scan() {
		var ev struct {
			Kind string `json:"kind"`
		}
		require.NoError(t, json.Unmarshal(sc.Bytes(), &ev))
		kinds = append(kinds, ev.Kind)
	}
	assert.Equal(t, []string{"deposited", "withdrawn"}, kinds)
}

func fundedVault() *custody.Vault {
	v := custody.NewVault(nil)
	v.Fund(alice, quote, units("1000"))
	return v
}

// failingCustody accepts pulls and fails every push.
type failingCustody struct {
	pulls int
}

func (c *failingCustody) Pull(context.Context, common.Address, common.Address, *uint256.Int) error {
	c.pulls++
	return nil
}

func (c *failingCustody) Push(context.Context, common.Address, common.Address, *uint256.Int) error {
	return errors.New("unreachable")
}

func TestCustomCustody(t *testing.T) {
	s, err := storage.OpenInMemory()
	require.NoError(t, err)
	defer s.Close()

	c := &failingCustody{}
	ex, err := New(s, Options{Base: base, Quote: quote, Custody: c, Genesis: genesis()})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, ex.Deposit(ctx, alice, base, units("3")))
	assert.Equal(t, 1, c.pulls)
	assert.ErrorIs(t, ex.Withdraw(ctx, alice, base, units("3")), ledger.ErrTransferFailed)
	bal, err := ex.Balance(ctx, alice, base)
	require.NoError(t, err)
	assert.Equal(t, units("3").Dec(), bal.Available.Dec())
}

// relayFixture signs calls as user and submits them through the relay.
type relayFixture struct {
	*fixture
	user  *crypto.Signer
	nonce uint64
}

func newRelayFixture(t *testing.T) *relayFixture {
	t.Helper()
	user, err := crypto.GenerateKey()
	require.NoError(t, err)
	f := newFixture(t)
	f.vault.Fund(user.Address(), quote, units("1000"))
	return &relayFixture{fixture: f, user: user}
}

func (f *relayFixture) envelope(t *testing.T, nonce uint64, method transaction.Method, args any) *transaction.Envelope {
	t.Helper()
	data, err := transaction.EncodeCall(method, args)
	require.NoError(t, err)
	env, err := transaction.NewEnvelope(f.ex.Domain(), f.user, data, nonce, start.Add(time.Minute).Unix())
	require.NoError(t, err)
	return env
}

func TestRelayActsAsSigner(t *testing.T) {
	f := newRelayFixture(t)
	user := f.user.Address()

	dep := f.envelope(t, 1, transaction.MethodDeposit, transaction.TransferArgs{Asset: quote.Hex(), Amount: units("20").Dec()})
	res, err := f.ex.Relay(f.ctx, relayAddr, dep)
	require.NoError(t, err)
	assert.Equal(t, user, res.Signer)
	f.assertBalance(t, user, quote, "20", "0")
	f.assertBalance(t, relayAddr, quote, "0", "0")

	place := f.envelope(t, 2, transaction.MethodPlaceBuy, transaction.OrderArgs{LimitPrice: units("2").Dec(), Amount: units("10").Dec()})
	res, err = f.ex.Relay(f.ctx, relayAddr, place)
	require.NoError(t, err)
	placed, ok := res.Result.(*orders.Order)
	require.True(t, ok)
	assert.Equal(t, user, placed.Owner)
	f.assertBalance(t, user, quote, "0", "20")

	// replaying the identical envelope fails
	_, err = f.ex.Relay(f.ctx, relayAddr, place)
	assert.ErrorIs(t, err, ledger.ErrAlreadyProcessed)

	cancel := f.envelope(t, 3, transaction.MethodCancel, transaction.CancelArgs{OrderID: placed.ID})
	_, err = f.ex.Relay(f.ctx, alice, cancel)
	assert.ErrorIs(t, err, ledger.ErrUnauthorized)

	_, err = f.ex.Relay(f.ctx, relayAddr, cancel)
	require.NoError(t, err)
	f.assertBalance(t, user, quote, "20", "0")

	n, err := f.ex.LastNonce(f.ctx, user)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), n.Uint64())
}

func TestRelayFailedCallKeepsNonce(t *testing.T) {
	f := newRelayFixture(t)
	user := f.user.Address()

	place := f.envelope(t, 1, transaction.MethodPlaceBuy, transaction.OrderArgs{LimitPrice: units("2").Dec(), Amount: units("10").Dec()})
	_, err := f.ex.Relay(f.ctx, relayAddr, place)
	assert.ErrorIs(t, err, ledger.ErrInsufficientAvailable)

	n, err := f.ex.LastNonce(f.ctx, user)
	require.NoError(t, err)
	assert.True(t, n.IsZero())

	require.NoError(t, f.ex.Deposit(f.ctx, user, quote, units("20")))
	_, err = f.ex.Relay(f.ctx, relayAddr, place)
	assert.NoError(t, err)
}

func TestRelayExpiredBeforeSignature(t *testing.T) {
	f := newRelayFixture(t)
	env := f.envelope(t, 1, transaction.MethodDeposit, transaction.TransferArgs{Asset: quote.Hex(), Amount: "1"})
	env.Signature = "0x00"
	f.clock.Advance(2 * time.Minute)

	_, err := f.ex.Relay(f.ctx, relayAddr, env)
	assert.ErrorIs(t, err, ledger.ErrExpired)
}

func TestRelayRejections(t *testing.T) {
	f := newRelayFixture(t)

	tampered := f.envelope(t, 1, transaction.MethodDeposit, transaction.TransferArgs{Asset: quote.Hex(), Amount: "1"})
	tampered.Data = `{"method":"deposit","args":{"asset":"` + quote.Hex() + `","amount":"2"}}`
	_, err := f.ex.Relay(f.ctx, relayAddr, tampered)
	assert.ErrorIs(t, err, ledger.ErrBadSignature)

	unknown := f.envelope(t, 1, transaction.Method("mint"), transaction.FeeArgs{Bps: 1})
	_, err = f.ex.Relay(f.ctx, relayAddr, unknown)
	assert.ErrorIs(t, err, ledger.ErrInvalidCall)

	badAddr := f.envelope(t, 1, transaction.MethodSetFeeRecipient, transaction.AddressArgs{Address: "nope"})
	_, err = f.ex.Relay(f.ctx, relayAddr, badAddr)
	assert.ErrorIs(t, err, ledger.ErrInvalidCall)

	// the signer holds no roles, so privileged calls stay privileged
	fee := f.envelope(t, 1, transaction.MethodSetFeeBps, transaction.FeeArgs{Bps: 1})
	_, err = f.ex.Relay(f.ctx, relayAddr, fee)
	assert.ErrorIs(t, err, ledger.ErrUnauthorized)

	require.NoError(t, f.ex.SetTrustedRelay(f.ctx, owner, common.Address{}))
	ok := f.envelope(t, 1, transaction.MethodDeposit, transaction.TransferArgs{Asset: quote.Hex(), Amount: "1"})
	_, err = f.ex.Relay(f.ctx, relayAddr, ok)
	assert.ErrorIs(t, err, ledger.ErrUnauthorized)
}
