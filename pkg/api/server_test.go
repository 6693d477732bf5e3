package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/hyperclob/pkg/app/clob"
	"github.com/uhyunpark/hyperclob/pkg/app/core/access"
	"github.com/uhyunpark/hyperclob/pkg/app/core/orders"
	"github.com/uhyunpark/hyperclob/pkg/app/core/transaction"
	"github.com/uhyunpark/hyperclob/pkg/crypto"
	"github.com/uhyunpark/hyperclob/pkg/custody"
	"github.com/uhyunpark/hyperclob/pkg/events"
	"github.com/uhyunpark/hyperclob/pkg/matcher"
	"github.com/uhyunpark/hyperclob/pkg/metrics"
	"github.com/uhyunpark/hyperclob/pkg/num"
	"github.com/uhyunpark/hyperclob/pkg/storage"
	"github.com/uhyunpark/hyperclob/pkg/util"
)

var (
	base   = common.HexToAddress("0xba5e")
	quote  = common.HexToAddress("0x9007e")
	owner  = common.HexToAddress("0x0e")
	matchr = common.HexToAddress("0x3a7c")
	feeTo  = common.HexToAddress("0xfee")
	relay  = common.HexToAddress("0x4e1a")
	alice  = common.HexToAddress("0xa11ce")
	bob    = common.HexToAddress("0xb0b")
	start  = time.Unix(1_800_000_000, 0)
)

func units(s string) string { return num.MustParseUnits(s).Dec() }

type testServer struct {
	*httptest.Server
	exchange *clob.Exchange
	vault    *custody.Vault
	hub      *Hub
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	s, err := storage.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	v := custody.NewVault(nil)
	for _, who := range []common.Address{alice, bob} {
		v.Fund(who, base, num.MustParseUnits("1000"))
		v.Fund(who, quote, num.MustParseUnits("1000"))
	}

	hub := NewHub(nil)
	m := metrics.New()
	ex, err := clob.New(s, clob.Options{
		Base:    base,
		Quote:   quote,
		Custody: v,
		Genesis: access.NewConfig(owner, 50, feeTo, []common.Address{matchr}, relay),
		ChainID: big.NewInt(1337),
		Clock:   util.NewManualClock(start),
		Bus:     events.NewBus(hub),
		Metrics: m,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	srv := NewServer(ex, hub, Options{Metrics: m.Handler()})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testServer{Server: ts, exchange: ex, vault: v, hub: hub}
}

func (ts *testServer) do(t *testing.T, method, path string, caller common.Address, body interface{}) *http.Response {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, ts.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if caller != (common.Address{}) {
		req.Header.Set(CallerHeader, caller.Hex())
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func expectError(t *testing.T, resp *http.Response, status int, code string) {
	t.Helper()
	assert.Equal(t, status, resp.StatusCode)
	e := decode[ErrorResponse](t, resp)
	assert.Equal(t, code, e.Error)
}

func TestHealthAndConfig(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, "GET", "/health", common.Address{}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", decode[StatusResponse](t, resp).Status)

	resp = ts.do(t, "GET", "/api/v1/config", common.Address{}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	cfg := decode[ConfigInfo](t, resp)
	assert.Equal(t, owner.Hex(), cfg.Owner)
	assert.Equal(t, uint16(50), cfg.FeeBps)
	assert.Equal(t, []string{matchr.Hex()}, cfg.Matchers)
	assert.Equal(t, relay.Hex(), cfg.TrustedRelay)
	assert.Equal(t, "1337", cfg.Domain.ChainID)
	assert.Equal(t, base.Hex(), cfg.Base)
}

func TestTradeLifecycle(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, "POST", "/api/v1/deposits?units=decimal", alice, transaction.TransferArgs{Asset: quote.Hex(), Amount: "100"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	bal := decode[BalanceInfo](t, resp)
	assert.Equal(t, "100", bal.AvailableUnits)

	resp = ts.do(t, "POST", "/api/v1/deposits", bob, transaction.TransferArgs{Asset: base.Hex(), Amount: units("10")})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.do(t, "POST", "/api/v1/orders/buy?units=decimal", alice, transaction.OrderArgs{LimitPrice: "2", Amount: "10"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	buy := decode[OrderInfo](t, resp)
	assert.Equal(t, "buy", buy.Side)
	assert.Equal(t, units("20"), buy.LockedAmount)

	resp = ts.do(t, "POST", "/api/v1/orders/sell?units=decimal", bob, transaction.OrderArgs{LimitPrice: "1.5", Amount: "10"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	sell := decode[OrderInfo](t, resp)

	resp = ts.do(t, "POST", "/api/v1/matches?units=decimal", matchr, transaction.MatchArgs{
		BuyID: buy.ID, SellID: sell.ID, FillAmount: "10", ExecPrice: "1.5",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res := decode[SettlementInfo](t, resp)
	assert.Equal(t, units("15"), res.QuoteAmount)
	assert.Equal(t, units("0.075"), res.FeeAmount)
	assert.Equal(t, units("4.925"), res.Refund)
	assert.Equal(t, "filled", res.Buy.Status)
	assert.Equal(t, "filled", res.Sell.Status)

	resp = ts.do(t, "GET", "/api/v1/accounts/"+alice.Hex()+"/balances", common.Address{}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	acct := decode[AccountInfo](t, resp)
	require.Len(t, acct.Balances, 2)
	assert.Equal(t, "10", acct.Balances[0].AvailableUnits)
	assert.Equal(t, "84.925", acct.Balances[1].AvailableUnits)
	assert.Equal(t, "0", acct.Nonce)

	resp = ts.do(t, "GET", "/api/v1/assets/"+quote.Hex()+"/totals", common.Address{}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	totals := decode[TotalsInfo](t, resp)
	assert.Equal(t, units("100"), totals.Total)

	resp = ts.do(t, "GET", fmt.Sprintf("/api/v1/orders/%d", buy.ID), common.Address{}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "filled", decode[OrderInfo](t, resp).Status)

	resp = ts.do(t, "GET", "/api/v1/accounts/"+alice.Hex()+"/orders?openOnly=true", common.Address{}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decode[[]OrderInfo](t, resp))

	resp = ts.do(t, "POST", fmt.Sprintf("/api/v1/orders/%d/cancel", buy.ID), alice, nil)
	expectError(t, resp, http.StatusConflict, "invalid_order_state")

	resp = ts.do(t, "GET", "/api/v1/state/hash", common.Address{}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[StateHashInfo](t, resp).Hash, 66)
}

func TestErrorMapping(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		caller common.Address
		body   interface{}
		status int
		code   string
	}{
		{"missing caller", "POST", "/api/v1/deposits", common.Address{}, transaction.TransferArgs{Asset: quote.Hex(), Amount: "1"}, http.StatusForbidden, "unauthorized"},
		{"unknown field", "POST", "/api/v1/deposits", alice, map[string]string{"asset": quote.Hex(), "amount": "1", "memo": "x"}, http.StatusBadRequest, "invalid_call"},
		{"bad amount", "POST", "/api/v1/deposits", alice, transaction.TransferArgs{Asset: quote.Hex(), Amount: "-1"}, http.StatusBadRequest, "invalid_amount"},
		{"zero amount", "POST", "/api/v1/deposits", alice, transaction.TransferArgs{Asset: quote.Hex(), Amount: "0"}, http.StatusBadRequest, "invalid_amount"},
		{"unsupported asset", "POST", "/api/v1/deposits", alice, transaction.TransferArgs{Asset: feeTo.Hex(), Amount: "1"}, http.StatusBadRequest, "unsupported_asset"},
		{"bad address", "GET", "/api/v1/accounts/nope/balances", common.Address{}, nil, http.StatusBadRequest, "invalid_address"},
		{"insufficient", "POST", "/api/v1/withdrawals", alice, transaction.TransferArgs{Asset: quote.Hex(), Amount: "1"}, http.StatusUnprocessableEntity, "insufficient_available"},
		{"order not found", "GET", "/api/v1/orders/42", common.Address{}, nil, http.StatusNotFound, "order_not_found"},
		{"cancel not found", "POST", "/api/v1/orders/42/cancel", alice, nil, http.StatusNotFound, "order_not_found"},
		{"non matcher", "POST", "/api/v1/matches", alice, transaction.MatchArgs{BuyID: 1, SellID: 2, FillAmount: "1", ExecPrice: "1"}, http.StatusForbidden, "unauthorized"},
		{"non owner", "POST", "/api/v1/admin/fee", alice, transaction.FeeArgs{Bps: 10}, http.StatusForbidden, "unauthorized"},
		{"fee too high", "POST", "/api/v1/admin/fee", owner, transaction.FeeArgs{Bps: 10001}, http.StatusBadRequest, "invalid_fee"},
		{"relay from stranger", "POST", "/api/v1/relay", alice, transaction.Envelope{}, http.StatusForbidden, "unauthorized"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := ts.do(t, tt.method, tt.path, tt.caller, tt.body)
			expectError(t, resp, tt.status, tt.code)
		})
	}
}

func TestAdminEndpoints(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, "POST", "/api/v1/admin/fee", owner, transaction.FeeArgs{Bps: 25})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, uint16(25), decode[ConfigInfo](t, resp).FeeBps)

	resp = ts.do(t, "POST", "/api/v1/admin/matchers", owner, transaction.MatcherArgs{Matcher: bob.Hex(), Allowed: true})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[ConfigInfo](t, resp).Matchers, 2)

	resp = ts.do(t, "POST", "/api/v1/admin/fee-recipient", owner, transaction.AddressArgs{Address: bob.Hex()})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, bob.Hex(), decode[ConfigInfo](t, resp).FeeRecipient)

	resp = ts.do(t, "POST", "/api/v1/admin/relay", owner, transaction.AddressArgs{Address: common.Address{}.Hex()})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decode[ConfigInfo](t, resp).TrustedRelay)

	resp = ts.do(t, "POST", "/api/v1/admin/owner", owner, transaction.AddressArgs{Address: alice.Hex()})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, alice.Hex(), decode[ConfigInfo](t, resp).Owner)

	// the previous owner lost the role
	resp = ts.do(t, "POST", "/api/v1/admin/fee", owner, transaction.FeeArgs{Bps: 1})
	expectError(t, resp, http.StatusForbidden, "unauthorized")
}

func TestRelayEndpoint(t *testing.T) {
	ts := newTestServer(t)
	user, err := crypto.GenerateKey()
	require.NoError(t, err)
	ts.vault.Fund(user.Address(), quote, num.MustParseUnits("50"))

	data, err := transaction.EncodeCall(transaction.MethodDeposit, transaction.TransferArgs{Asset: quote.Hex(), Amount: units("5")})
	require.NoError(t, err)
	env, err := transaction.NewEnvelope(ts.exchange.Domain(), user, data, 1, start.Add(time.Minute).Unix())
	require.NoError(t, err)

	resp := ts.do(t, "POST", "/api/v1/relay", relay, env)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decode[RelayResponse](t, resp)
	assert.Equal(t, user.Address().Hex(), out.Signer)
	assert.Equal(t, "1", out.Nonce)
	assert.Equal(t, "deposit", out.Method)

	resp = ts.do(t, "POST", "/api/v1/relay", relay, env)
	expectError(t, resp, http.StatusConflict, "already_processed")

	tampered := *env
	tampered.Nonce = "2"
	resp = ts.do(t, "POST", "/api/v1/relay", relay, &tampered)
	expectError(t, resp, http.StatusBadRequest, "bad_signature")

	resp = ts.do(t, "GET", "/api/v1/accounts/"+user.Address().Hex()+"/balances", common.Address{}, nil)
	acct := decode[AccountInfo](t, resp)
	assert.Equal(t, "1", acct.Nonce)
	assert.Equal(t, "5", acct.Balances[1].AvailableUnits)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.do(t, "POST", "/api/v1/deposits", alice, transaction.TransferArgs{Asset: quote.Hex(), Amount: "1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.do(t, "GET", "/metrics", common.Address{}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var buf bytes.Buffer
	_, err := buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `hyperclob_operations_total{op="deposit",result="ok"} 1`)
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t)
	// browsers send request header names lowercased
	for _, header := range []string{strings.ToLower(CallerHeader), "content-type", "content-type," + strings.ToLower(CallerHeader)} {
		t.Run(header, func(t *testing.T) {
			req, err := http.NewRequest("OPTIONS", ts.URL+"/api/v1/deposits", nil)
			require.NoError(t, err)
			req.Header.Set("Origin", "http://localhost:3000")
			req.Header.Set("Access-Control-Request-Method", "POST")
			req.Header.Set("Access-Control-Request-Headers", header)
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, "http://localhost:3000", resp.Header.Get("Access-Control-Allow-Origin"))
		})
	}
}

func TestWebSocketReceivesSubscribedEvents(t *testing.T) {
	ts := newTestServer(t)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	channel := events.BalanceChannel(alice.Hex())
	require.NoError(t, conn.WriteJSON(WSSubscribeRequest{Op: "subscribe", Channels: []string{channel}}))
	require.Eventually(t, func() bool {
		ts.hub.mu.RLock()
		defer ts.hub.mu.RUnlock()
		for c := range ts.hub.clients {
			if c.IsSubscribed(channel) {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	// bob's activity is not on alice's channel
	require.NoError(t, ts.exchange.Deposit(context.Background(), bob, quote, uint256.NewInt(7)))
	require.NoError(t, ts.exchange.Deposit(context.Background(), alice, quote, uint256.NewInt(9)))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg struct {
		Type    string `json:"type"`
		Channel string `json:"channel"`
		Data    struct {
			Subject string          `json:"subject"`
			Data    json.RawMessage `json:"data"`
		} `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, string(events.KindDeposited), msg.Type)
	assert.Equal(t, channel, msg.Channel)

	var transfer events.Transfer
	require.NoError(t, json.Unmarshal(msg.Data.Data, &transfer))
	assert.Equal(t, "9", transfer.Amount)
}

func TestHubDropsUnsubscribedChannels(t *testing.T) {
	hub := NewHub(nil)
	c := &Client{hub: hub, send: make(chan []byte, 1), id: "c1", subscriptions: map[string]bool{"trades": true}}
	hub.clients[c] = true

	hub.deliver(outbound{channel: "orders", message: []byte("{}")})
	assert.Len(t, c.send, 0)

	hub.deliver(outbound{channel: "trades", message: []byte("{}")})
	assert.Len(t, c.send, 1)

	// a full buffer disconnects the slow client
	hub.deliver(outbound{channel: "trades", message: []byte("{}")})
	assert.Equal(t, 0, hub.ClientCount())
}

func TestStoppedHubReleasesClients(t *testing.T) {
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()

	c := &Client{hub: hub, send: make(chan []byte, 1), id: "c1", subscriptions: map[string]bool{}}
	require.True(t, hub.join(c))
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	<-stopped
	_, open := <-c.send
	assert.False(t, open, "send channel closed on shutdown")

	left := make(chan struct{})
	go func() {
		hub.leave(c)
		close(left)
	}()
	select {
	case <-left:
	case <-time.After(time.Second):
		t.Fatal("leave blocked after the hub stopped")
	}
	assert.False(t, hub.join(&Client{hub: hub, send: make(chan []byte, 1), id: "c2"}))
}

func TestBookDepth(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, "GET", "/api/v1/book", common.Address{}, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	book := matcher.NewBook()
	book.Add(matcher.Resting{ID: 1, Owner: alice, Side: orders.SideBuy, Price: num.MustParseUnits("2"), Remaining: num.MustParseUnits("3")})
	book.Add(matcher.Resting{ID: 2, Owner: bob, Side: orders.SideBuy, Price: num.MustParseUnits("2"), Remaining: num.MustParseUnits("1.5")})
	book.Add(matcher.Resting{ID: 3, Owner: bob, Side: orders.SideSell, Price: num.MustParseUnits("2.5"), Remaining: num.MustParseUnits("1")})

	srv := NewServer(ts.exchange, ts.hub, Options{Book: book})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/book", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var info BookInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	require.Len(t, info.Bids, 1)
	require.Len(t, info.Asks, 1)
	assert.Equal(t, units("2"), info.Bids[0].Price)
	assert.Equal(t, "4.5", info.Bids[0].AmountUnits)
	assert.Equal(t, "2.5", info.Asks[0].PriceUnits)
}
