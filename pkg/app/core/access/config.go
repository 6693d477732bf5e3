package access

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperclob/pkg/app/core/ledger"
	"github.com/uhyunpark/hyperclob/pkg/num"
	"github.com/uhyunpark/hyperclob/pkg/storage"
)

// Config is the mutable exchange configuration.
type Config struct {
	Owner        common.Address   // Holder of the configuration role
	FeeBps       uint16           // 0..10000
	FeeRecipient common.Address   // Credited with every fee
	Matchers     []common.Address // Allowed to call matchOrders, kept sorted
	TrustedRelay common.Address   // Zero means no relay
}

type configRecord struct {
	Owner        string   `json:"owner"`
	FeeBps       uint16   `json:"fee_bps"`
	FeeRecipient string   `json:"fee_recipient"`
	Matchers     []string `json:"matchers"`
	TrustedRelay string   `json:"trusted_relay"`
}

// Validate checks the invariants every stored config satisfies.
func (c *Config) Validate() error {
	if c.Owner == (common.Address{}) {
		return fmt.Errorf("%w: owner is zero", ledger.ErrInvalidAddress)
	}
	if c.FeeBps > num.BpsDenominator {
		return fmt.Errorf("%w: %d bps > %d", ledger.ErrInvalidFee, c.FeeBps, num.BpsDenominator)
	}
	if c.FeeRecipient == (common.Address{}) {
		return fmt.Errorf("%w: fee recipient is zero", ledger.ErrInvalidAddress)
	}
	return nil
}

// HasRelay reports whether a trusted relay is configured.
func (c *Config) HasRelay() bool {
	return c.TrustedRelay != (common.Address{})
}

// IsMatcher reports whether addr may settle matches.
func (c *Config) IsMatcher(addr common.Address) bool {
	i := sort.Search(len(c.Matchers), func(i int) bool {
		return c.Matchers[i].Cmp(addr) >= 0
	})
	return i < len(c.Matchers) && c.Matchers[i] == addr
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	out := *c
	out.Matchers = append([]common.Address(nil), c.Matchers...)
	return &out
}

// Update is one applied configuration change, reported as config-updated.
type Update struct {
	Field string
	Value string
}

// SetFeeBps changes the fee rate.
func (c *Config) SetFeeBps(bps uint16) (Update, error) {
	if bps > num.BpsDenominator {
		return Update{}, fmt.Errorf("%w: %d bps > %d", ledger.ErrInvalidFee, bps, num.BpsDenominator)
	}
	c.FeeBps = bps
	return Update{Field: "fee_bps", Value: strconv.Itoa(int(bps))}, nil
}

// SetFeeRecipient changes who receives fees.
func (c *Config) SetFeeRecipient(addr common.Address) (Update, error) {
	if addr == (common.Address{}) {
		return Update{}, fmt.Errorf("%w: fee recipient is zero", ledger.ErrInvalidAddress)
	}
	c.FeeRecipient = addr
	return Update{Field: "fee_recipient", Value: addr.Hex()}, nil
}

// SetMatcherAllowed adds or removes addr from the matcher allowlist.
func (c *Config) SetMatcherAllowed(addr common.Address, allowed bool) (Update, error) {
	if addr == (common.Address{}) {
		return Update{}, fmt.Errorf("%w: matcher is zero", ledger.ErrInvalidAddress)
	}
	set := make(map[common.Address]struct{}, len(c.Matchers)+1)
	for _, m := range c.Matchers {
		set[m] = struct{}{}
	}
	if allowed {
		set[addr] = struct{}{}
	} else {
		delete(set, addr)
	}
	c.Matchers = sortedAddresses(set)
	return Update{Field: "matcher", Value: fmt.Sprintf("%s:%t", addr.Hex(), allowed)}, nil
}

// SetTrustedRelay replaces the relay; the zero address clears it.
func (c *Config) SetTrustedRelay(addr common.Address) (Update, error) {
	c.TrustedRelay = addr
	return Update{Field: "trusted_relay", Value: addr.Hex()}, nil
}

// TransferOwnership hands the configuration role to addr.
func (c *Config) TransferOwnership(addr common.Address) (Update, error) {
	if addr == (common.Address{}) {
		return Update{}, fmt.Errorf("%w: owner is zero", ledger.ErrInvalidAddress)
	}
	c.Owner = addr
	return Update{Field: "owner", Value: addr.Hex()}, nil
}

// LoadConfig reads the stored config. ok is false on an empty store.
func LoadConfig(txn *storage.Txn) (cfg *Config, ok bool, err error) {
	var rec configRecord
	ok, err = txn.GetJSON(storage.ConfigKey(), &rec)
	if err != nil || !ok {
		return nil, ok, err
	}
	cfg = &Config{
		Owner:        common.HexToAddress(rec.Owner),
		FeeBps:       rec.FeeBps,
		FeeRecipient: common.HexToAddress(rec.FeeRecipient),
		TrustedRelay: common.HexToAddress(rec.TrustedRelay),
	}
	set := make(map[common.Address]struct{}, len(rec.Matchers))
	for _, m := range rec.Matchers {
		set[common.HexToAddress(m)] = struct{}{}
	}
	cfg.Matchers = sortedAddresses(set)
	return cfg, true, nil
}

// SaveConfig validates and stages cfg.
func SaveConfig(txn *storage.Txn, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	rec := configRecord{
		Owner:        cfg.Owner.Hex(),
		FeeBps:       cfg.FeeBps,
		FeeRecipient: cfg.FeeRecipient.Hex(),
		TrustedRelay: cfg.TrustedRelay.Hex(),
		Matchers:     make([]string, 0, len(cfg.Matchers)),
	}
	for _, m := range cfg.Matchers {
		rec.Matchers = append(rec.Matchers, m.Hex())
	}
	return txn.PutJSON(storage.ConfigKey(), rec)
}

// NewConfig builds a config with a deduplicated, sorted matcher set.
func NewConfig(owner common.Address, feeBps uint16, feeRecipient common.Address, matchers []common.Address, relay common.Address) *Config {
	set := make(map[common.Address]struct{}, len(matchers))
	for _, m := range matchers {
		set[m] = struct{}{}
	}
	return &Config{
		Owner:        owner,
		FeeBps:       feeBps,
		FeeRecipient: feeRecipient,
		Matchers:     sortedAddresses(set),
		TrustedRelay: relay,
	}
}

func sortedAddresses(set map[common.Address]struct{}) []common.Address {
	out := make([]common.Address, 0, len(set))
	for a := range set {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out
}
