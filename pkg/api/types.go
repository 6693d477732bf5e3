package api

// API response types for REST endpoints and WebSocket messages.
// Amounts and prices are base-10 integers in base units (prices in 1e18
// fixed point); the *Units fields carry the same value as an 18-decimal string.

// ==============================
// REST Response Types
// ==============================

// DomainInfo is the EIP-712 domain relay envelopes are signed under
type DomainInfo struct {
	Name              string `json:"name"`
	Version           string `json:"version"`
	ChainID           string `json:"chainId"`
	VerifyingContract string `json:"verifyingContract"`
}

// ConfigInfo is the current exchange configuration
type ConfigInfo struct {
	Base         string     `json:"base"`
	Quote        string     `json:"quote"`
	Owner        string     `json:"owner"`
	FeeBps       uint16     `json:"feeBps"`
	FeeRecipient string     `json:"feeRecipient"`
	Matchers     []string   `json:"matchers"`
	TrustedRelay string     `json:"trustedRelay,omitempty"` // empty when relaying is disabled
	Domain       DomainInfo `json:"domain"`
}

// BalanceInfo is one (owner, asset) ledger entry
type BalanceInfo struct {
	Asset          string `json:"asset"`
	Available      string `json:"available"`
	Locked         string `json:"locked"`
	AvailableUnits string `json:"availableUnits"`
	LockedUnits    string `json:"lockedUnits"`
}

// AccountInfo lists an account's base and quote entries
type AccountInfo struct {
	Address  string        `json:"address"`
	Balances []BalanceInfo `json:"balances"`
	Nonce    string        `json:"nonce"` // last consumed relay nonce
}

// OrderInfo represents an order (open or historical)
type OrderInfo struct {
	ID              uint64 `json:"id"`
	Owner           string `json:"owner"`
	Side            string `json:"side"` // "buy" or "sell"
	LimitPrice      string `json:"limitPrice"`
	LimitPriceUnits string `json:"limitPriceUnits"`
	OriginalAmount  string `json:"originalAmount"`
	RemainingAmount string `json:"remainingAmount"`
	LockedAmount    string `json:"lockedAmount"`
	Status          string `json:"status"`    // "open" | "partially_filled" | "filled" | "cancelled"
	CreatedAt       int64  `json:"createdAt"` // Unix milliseconds
	UpdatedAt       int64  `json:"updatedAt"`
}

// SettlementInfo is the outcome of a match
type SettlementInfo struct {
	Buy         OrderInfo `json:"buy"`
	Sell        OrderInfo `json:"sell"`
	QuoteAmount string    `json:"quoteAmount"`
	FeeAmount   string    `json:"feeAmount"`
	Refund      string    `json:"refund"`
	Shortfall   string    `json:"shortfall"`
}

// TotalsInfo sums an asset across all accounts
type TotalsInfo struct {
	Asset     string `json:"asset"`
	Available string `json:"available"`
	Locked    string `json:"locked"`
	Total     string `json:"total"`
	Accounts  int    `json:"accounts"`
}

// LevelInfo is one aggregated price level
type LevelInfo struct {
	Price       string `json:"price"`
	Amount      string `json:"amount"`
	PriceUnits  string `json:"priceUnits"`
	AmountUnits string `json:"amountUnits"`
}

// BookInfo is the matcher's depth snapshot
type BookInfo struct {
	Bids []LevelInfo `json:"bids"`
	Asks []LevelInfo `json:"asks"`
}

// StateHashInfo is the deterministic digest of balances and orders
type StateHashInfo struct {
	Hash string `json:"hash"`
}

// RelayResponse describes an executed relayed call
type RelayResponse struct {
	Signer string      `json:"signer"`
	Nonce  string      `json:"nonce"`
	Method string      `json:"method"`
	Result interface{} `json:"result,omitempty"`
}

// StatusResponse acknowledges operations with no other output
type StatusResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is returned for all errors
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSMessage wraps every event pushed to subscribers
type WSMessage struct {
	Type    string      `json:"type"`    // event kind, e.g. "order-placed"
	Channel string      `json:"channel"` // "orders", "trades", "config", "balances:0x..."
	Data    interface{} `json:"data"`
}

// WSSubscribeRequest is sent by client to subscribe to channels
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // e.g., ["orders", "trades", "balances:0x..."]
}
