package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hyperclob/pkg/app/core/ledger"
	"github.com/uhyunpark/hyperclob/pkg/app/core/orders"
	"github.com/uhyunpark/hyperclob/pkg/app/core/settlement"
	"github.com/uhyunpark/hyperclob/pkg/app/core/transaction"
	"github.com/uhyunpark/hyperclob/pkg/num"
)

// maxBody bounds request bodies; envelopes are the largest payload.
const maxBody = 64 << 10

// decodeBody strictly decodes the JSON body into v.
func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: decode body: %v", ledger.ErrInvalidCall, err)
	}
	return nil
}

// humanUnits reports whether amounts in the request are whole-unit decimals
// ("1.5") instead of base-unit integers.
func humanUnits(r *http.Request) bool {
	return r.URL.Query().Get("units") == "decimal"
}

func parseAmount(r *http.Request, s string) (*uint256.Int, error) {
	x, err := num.ParseAmount(s, humanUnits(r))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ledger.ErrInvalidAmount, err)
	}
	return x, nil
}

func parsePrice(r *http.Request, s string) (*uint256.Int, error) {
	x, err := num.ParseAmount(s, humanUnits(r))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ledger.ErrInvalidPrice, err)
	}
	return x, nil
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %q", ledger.ErrInvalidAddress, s)
	}
	return common.HexToAddress(s), nil
}

func pathID(r *http.Request) (uint64, error) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: order id: %v", ledger.ErrInvalidCall, err)
	}
	return id, nil
}

// ==============================
// Read endpoints
// ==============================

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.exchange.Config(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, toConfigInfo(cfg, s.exchange.Base(), s.exchange.Quote(), s.exchange.Domain()))
}

func (s *Server) handleGetStateHash(w http.ResponseWriter, r *http.Request) {
	hash, err := s.exchange.StateHash(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, StateHashInfo{Hash: hash})
}

func (s *Server) handleGetBook(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, BookInfo{
		Bids: toLevelInfos(s.opts.Book.Levels(orders.SideBuy)),
		Asks: toLevelInfos(s.opts.Book.Levels(orders.SideSell)),
	})
}

func (s *Server) handleGetTotals(w http.ResponseWriter, r *http.Request) {
	asset, err := parseAddress(mux.Vars(r)["asset"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	t, err := s.exchange.Totals(r.Context(), asset)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, TotalsInfo{
		Asset:     asset.Hex(),
		Available: dec(t.Available),
		Locked:    dec(t.Locked),
		Total:     dec(new(uint256.Int).Add(t.Available, t.Locked)),
		Accounts:  t.Accounts,
	})
}

func (s *Server) handleGetBalances(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress(mux.Vars(r)["address"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	balances, err := s.exchange.Balances(r.Context(), addr)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	nonce, err := s.exchange.LastNonce(r.Context(), addr)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	info := AccountInfo{Address: addr.Hex(), Nonce: dec(nonce)}
	for _, asset := range []common.Address{s.exchange.Base(), s.exchange.Quote()} {
		info.Balances = append(info.Balances, toBalanceInfo(asset, balances[asset]))
	}
	respondJSON(w, info)
}

func (s *Server) handleGetOrders(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress(mux.Vars(r)["address"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	openOnly := r.URL.Query().Get("openOnly") == "true"
	list, err := s.exchange.OrdersByOwner(r.Context(), addr, openOnly)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]OrderInfo, 0, len(list))
	for _, o := range list {
		out = append(out, toOrderInfo(o))
	}
	respondJSON(w, out)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	o, err := s.exchange.Order(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, toOrderInfo(o))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, StatusResponse{Status: "ok"})
}

// ==============================
// Funds
// ==============================

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	s.handleTransfer(w, r, transaction.MethodDeposit)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	s.handleTransfer(w, r, transaction.MethodWithdraw)
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request, method transaction.Method) {
	caller, err := callerOf(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req transaction.TransferArgs
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	asset, err := parseAddress(req.Asset)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	amount, err := parseAmount(r, req.Amount)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	if method == transaction.MethodDeposit {
		err = s.exchange.Deposit(r.Context(), caller, asset, amount)
	} else {
		err = s.exchange.Withdraw(r.Context(), caller, asset, amount)
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}

	bal, err := s.exchange.Balance(r.Context(), caller, asset)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, toBalanceInfo(asset, bal))
}

// ==============================
// Orders and matching
// ==============================

func (s *Server) handlePlaceBuy(w http.ResponseWriter, r *http.Request) {
	s.handlePlace(w, r, orders.SideBuy)
}

func (s *Server) handlePlaceSell(w http.ResponseWriter, r *http.Request) {
	s.handlePlace(w, r, orders.SideSell)
}

func (s *Server) handlePlace(w http.ResponseWriter, r *http.Request, side orders.Side) {
	caller, err := callerOf(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req transaction.OrderArgs
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	price, err := parsePrice(r, req.LimitPrice)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	amount, err := parseAmount(r, req.Amount)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	var o *orders.Order
	if side == orders.SideBuy {
		o, err = s.exchange.PlaceBuy(r.Context(), caller, price, amount)
	} else {
		o, err = s.exchange.PlaceSell(r.Context(), caller, price, amount)
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondStatus(w, http.StatusCreated, toOrderInfo(o))
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	caller, err := callerOf(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	o, err := s.exchange.Cancel(r.Context(), caller, id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, toOrderInfo(o))
}

func (s *Server) handleMatch(w http.ResponseWriter, r *http.Request) {
	caller, err := callerOf(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req transaction.MatchArgs
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	fill, err := parseAmount(r, req.FillAmount)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	price, err := parsePrice(r, req.ExecPrice)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.exchange.MatchOrders(r.Context(), caller, settlement.Match{
		BuyID:      req.BuyID,
		SellID:     req.SellID,
		FillAmount: fill,
		ExecPrice:  price,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, toSettlementInfo(res))
}

// ==============================
// Owner configuration
// ==============================

// respondConfig answers a configuration change with the resulting config.
func (s *Server) respondConfig(w http.ResponseWriter, r *http.Request, err error) {
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.handleGetConfig(w, r)
}

func (s *Server) handleSetFee(w http.ResponseWriter, r *http.Request) {
	caller, err := callerOf(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req transaction.FeeArgs
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondConfig(w, r, s.exchange.SetFeeBps(r.Context(), caller, req.Bps))
}

// handleAddressSetting serves the single-address setters.
func (s *Server) handleAddressSetting(w http.ResponseWriter, r *http.Request, set func(caller, addr common.Address) error) {
	caller, err := callerOf(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req transaction.AddressArgs
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	addr, err := parseAddress(req.Address)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondConfig(w, r, set(caller, addr))
}

func (s *Server) handleSetFeeRecipient(w http.ResponseWriter, r *http.Request) {
	s.handleAddressSetting(w, r, func(caller, addr common.Address) error {
		return s.exchange.SetFeeRecipient(r.Context(), caller, addr)
	})
}

// handleSetRelay accepts the zero address to disable relaying.
func (s *Server) handleSetRelay(w http.ResponseWriter, r *http.Request) {
	s.handleAddressSetting(w, r, func(caller, addr common.Address) error {
		return s.exchange.SetTrustedRelay(r.Context(), caller, addr)
	})
}

func (s *Server) handleTransferOwnership(w http.ResponseWriter, r *http.Request) {
	s.handleAddressSetting(w, r, func(caller, addr common.Address) error {
		return s.exchange.TransferOwnership(r.Context(), caller, addr)
	})
}

func (s *Server) handleSetMatcher(w http.ResponseWriter, r *http.Request) {
	caller, err := callerOf(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req transaction.MatcherArgs
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	matcher, err := parseAddress(req.Matcher)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondConfig(w, r, s.exchange.SetMatcherAllowed(r.Context(), caller, matcher, req.Allowed))
}

// ==============================
// Meta-transactions
// ==============================

func (s *Server) handleRelay(w http.ResponseWriter, r *http.Request) {
	caller, err := callerOf(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	// Envelope checks run inside Relay, after the caller is known to be
	// the trusted relay.
	var env transaction.Envelope
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(&env); err != nil {
		s.fail(w, r, fmt.Errorf("%w: decode envelope: %v", ledger.ErrBadSignature, err))
		return
	}
	res, err := s.exchange.Relay(r.Context(), caller, &env)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, toRelayResponse(res))
}
