package params

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/joho/godotenv"

	"github.com/uhyunpark/hyperclob/pkg/app/core/access"
	"github.com/uhyunpark/hyperclob/pkg/num"
)

// Ledger is the genesis configuration of the exchange and its signing domain.
type Ledger struct {
	Address      common.Address // verifyingContract of the relay domain
	ChainID      *big.Int
	Base         common.Address
	Quote        common.Address
	Owner        common.Address
	Matchers     []common.Address
	FeeRecipient common.Address
	FeeBps       uint16
	TrustedRelay common.Address // zero disables relaying
}

type Node struct {
	DataDir     string
	APIAddr     string
	LogFile     string
	LogLevel    string
	JournalFile string // empty disables the journal
	CORSOrigins []string
}

// Matcher configures the built-in matching service. Address must hold the
// matcher role; zero means the first genesis matcher.
type Matcher struct {
	Enabled  bool
	Address  common.Address
	Interval time.Duration
}

// Events configures the optional Kafka sink; no brokers means disabled.
type Events struct {
	KafkaBrokers []string
	KafkaTopic   string
}

// Grant funds an account in the devnet custody vault.
type Grant struct {
	Owner  common.Address
	Asset  common.Address
	Amount *uint256.Int
}

type Config struct {
	Ledger   Ledger
	Node     Node
	Events   Events
	Matcher  Matcher
	DevFunds []Grant
}

// Devnet defaults. The owner doubles as matcher so a fresh node is usable
// without further setup.
var (
	DevLedger = common.HexToAddress("0x00000000000000000000000000000000000c10b")
	DevBase   = common.HexToAddress("0x000000000000000000000000000000000000ba5e")
	DevQuote  = common.HexToAddress("0x00000000000000000000000000000000009007e")
	DevOwner  = common.HexToAddress("0x00000000000000000000000000000000000000e0")
)

func Default() Config {
	return Config{
		Ledger: Ledger{
			Address:      DevLedger,
			ChainID:      big.NewInt(1337),
			Base:         DevBase,
			Quote:        DevQuote,
			Owner:        DevOwner,
			Matchers:     []common.Address{DevOwner},
			FeeRecipient: DevOwner,
			FeeBps:       10,
		},
		Node: Node{
			DataDir:     "data",
			APIAddr:     ":8080",
			LogFile:     "data/node.log",
			LogLevel:    "info",
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:3001"},
		},
		Events: Events{
			KafkaTopic: "hyperclob-events",
		},
		Matcher: Matcher{
			Interval: time.Second,
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) (Config, error) {
	cfg := Default()

	// Try to load .env file (optional - won't fail if not exists)
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load() // loads .env from current directory
	}

	var errs []error
	addr := func(key string, dst *common.Address) {
		if v := os.Getenv(key); v != "" {
			if !common.IsHexAddress(v) {
				errs = append(errs, fmt.Errorf("%s: invalid address %q", key, v))
				return
			}
			*dst = common.HexToAddress(v)
		}
	}

	addr("LEDGER_ADDRESS", &cfg.Ledger.Address)
	addr("BASE_ASSET", &cfg.Ledger.Base)
	addr("QUOTE_ASSET", &cfg.Ledger.Quote)
	addr("OWNER", &cfg.Ledger.Owner)
	addr("FEE_RECIPIENT", &cfg.Ledger.FeeRecipient)
	addr("TRUSTED_RELAY", &cfg.Ledger.TrustedRelay)

	if v := os.Getenv("MATCHERS"); v != "" {
		cfg.Ledger.Matchers = nil
		for _, s := range splitList(v, ",") {
			if !common.IsHexAddress(s) {
				errs = append(errs, fmt.Errorf("MATCHERS: invalid address %q", s))
				continue
			}
			cfg.Ledger.Matchers = append(cfg.Ledger.Matchers, common.HexToAddress(s))
		}
	}

	if v := os.Getenv("FEE_BPS"); v != "" {
		bps, err := strconv.ParseUint(v, 10, 16)
		if err != nil {
			errs = append(errs, fmt.Errorf("FEE_BPS: %w", err))
		} else {
			cfg.Ledger.FeeBps = uint16(bps)
		}
	}

	if v := os.Getenv("CHAIN_ID"); v != "" {
		id, ok := new(big.Int).SetString(v, 10)
		if !ok || id.Sign() <= 0 {
			errs = append(errs, fmt.Errorf("CHAIN_ID: invalid %q", v))
		} else {
			cfg.Ledger.ChainID = id
		}
	}

	cfg.Node.DataDir = getEnv("DATA_DIR", cfg.Node.DataDir)
	cfg.Node.APIAddr = getEnv("API_ADDR", cfg.Node.APIAddr)
	cfg.Node.LogFile = getEnv("LOG_FILE", cfg.Node.LogFile)
	cfg.Node.LogLevel = getEnv("LOG_LEVEL", cfg.Node.LogLevel)
	cfg.Node.JournalFile = getEnv("JOURNAL_FILE", cfg.Node.JournalFile)
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		cfg.Node.CORSOrigins = splitList(v, ",")
	}

	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Events.KafkaBrokers = splitList(v, ",")
	}
	cfg.Events.KafkaTopic = getEnv("KAFKA_TOPIC", cfg.Events.KafkaTopic)

	if v := os.Getenv("AUTO_MATCH"); v != "" {
		on, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("AUTO_MATCH: %w", err))
		}
		cfg.Matcher.Enabled = on
	}
	addr("MATCHER_ADDRESS", &cfg.Matcher.Address)
	if v := os.Getenv("MATCH_INTERVAL_MS"); v != "" {
		ms, err := strconv.ParseUint(v, 10, 32)
		if err != nil || ms == 0 {
			errs = append(errs, fmt.Errorf("MATCH_INTERVAL_MS: invalid %q", v))
		} else {
			cfg.Matcher.Interval = time.Duration(ms) * time.Millisecond
		}
	}

	if v := os.Getenv("DEV_FUNDS"); v != "" {
		grants, err := ParseDevFunds(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("DEV_FUNDS: %w", err))
		}
		cfg.DevFunds = grants
	}

	if err := errors.Join(errs...); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// Validate rejects configurations the exchange would refuse at genesis.
func (c Config) Validate() error {
	if c.Ledger.Base == c.Ledger.Quote {
		return fmt.Errorf("base and quote asset are both %s", c.Ledger.Base.Hex())
	}
	if c.Ledger.ChainID == nil || c.Ledger.ChainID.Sign() <= 0 {
		return errors.New("chain id must be positive")
	}
	if len(c.Events.KafkaBrokers) > 0 && c.Events.KafkaTopic == "" {
		return errors.New("KAFKA_TOPIC is required when KAFKA_BROKERS is set")
	}
	if c.Matcher.Enabled {
		self := c.MatcherAddress()
		if self == (common.Address{}) || !c.Genesis().IsMatcher(self) {
			return fmt.Errorf("auto-match address %s is not a genesis matcher", self.Hex())
		}
	}
	for _, g := range c.DevFunds {
		if g.Asset != c.Ledger.Base && g.Asset != c.Ledger.Quote {
			return fmt.Errorf("dev funds for %s: asset %s is not traded", g.Owner.Hex(), g.Asset.Hex())
		}
	}
	return c.Genesis().Validate()
}

// MatcherAddress is the identity the built-in matcher submits matches as.
func (c Config) MatcherAddress() common.Address {
	if c.Matcher.Address != (common.Address{}) || len(c.Ledger.Matchers) == 0 {
		return c.Matcher.Address
	}
	return c.Ledger.Matchers[0]
}

// Genesis is the exchange configuration written to an empty store.
func (c Config) Genesis() *access.Config {
	return access.NewConfig(c.Ledger.Owner, c.Ledger.FeeBps, c.Ledger.FeeRecipient, c.Ledger.Matchers, c.Ledger.TrustedRelay)
}

// ParseDevFunds reads "owner:asset:amount;..." where amount is in whole
// units ("1000.5").
func ParseDevFunds(s string) ([]Grant, error) {
	var grants []Grant
	for _, entry := range splitList(s, ";") {
		parts := strings.Split(entry, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("entry %q: want owner:asset:amount", entry)
		}
		if !common.IsHexAddress(parts[0]) || !common.IsHexAddress(parts[1]) {
			return nil, fmt.Errorf("entry %q: invalid address", entry)
		}
		amount, err := num.ParseUnits(parts[2])
		if err != nil {
			return nil, fmt.Errorf("entry %q: %w", entry, err)
		}
		grants = append(grants, Grant{
			Owner:  common.HexToAddress(parts[0]),
			Asset:  common.HexToAddress(parts[1]),
			Amount: amount,
		})
	}
	return grants, nil
}

// splitList splits on sep, trimming blanks and dropping empty items.
func splitList(s, sep string) []string {
	var out []string
	for _, item := range strings.Split(s, sep) {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
