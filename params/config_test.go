package params

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/hyperclob/pkg/num"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadFromEnvOverridesDotenv(t *testing.T) {
	dir := t.TempDir()
	env := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(env, []byte(
		"FEE_BPS=25\n"+
			"MATCHERS=0x0000000000000000000000000000000000000a01, 0x0000000000000000000000000000000000000a02\n"+
			"API_ADDR=:9000\n"), 0o644))

	// ENV beats .env
	t.Setenv("API_ADDR", ":9100")
	t.Setenv("CHAIN_ID", "31337")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("DEV_FUNDS", "0x0000000000000000000000000000000000000a01:"+DevQuote.Hex()+":1000.5")
	t.Cleanup(func() {
		os.Unsetenv("FEE_BPS")
		os.Unsetenv("MATCHERS")
	})

	cfg, err := LoadFromEnv(env)
	require.NoError(t, err)

	assert.Equal(t, uint16(25), cfg.Ledger.FeeBps)
	assert.Len(t, cfg.Ledger.Matchers, 2)
	assert.Equal(t, ":9100", cfg.Node.APIAddr)
	assert.Equal(t, "31337", cfg.Ledger.ChainID.String())
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Events.KafkaBrokers)
	require.Len(t, cfg.DevFunds, 1)
	assert.Equal(t, num.MustParseUnits("1000.5").Dec(), cfg.DevFunds[0].Amount.Dec())
}

func TestLoadFromEnvRejectsBadValues(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"FEE_BPS", "10001"},
		{"FEE_BPS", "abc"},
		{"OWNER", "0x123"},
		{"QUOTE_ASSET", DevBase.Hex()},
		{"CHAIN_ID", "0"},
		{"MATCHERS", "nope"},
		{"DEV_FUNDS", "0xa01:0xba5e"},
		{"AUTO_MATCH", "maybe"},
		{"MATCH_INTERVAL_MS", "0"},
		{"MATCHER_ADDRESS", "0xzz"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := LoadFromEnv(filepath.Join(t.TempDir(), "missing.env"))
			assert.Error(t, err)
		})
	}
}

func TestParseDevFunds(t *testing.T) {
	a := common.HexToAddress("0xa11ce")
	grants, err := ParseDevFunds(a.Hex() + ":" + DevBase.Hex() + ":10; " + a.Hex() + ":" + DevQuote.Hex() + ":0.25;")
	require.NoError(t, err)
	require.Len(t, grants, 2)
	assert.Equal(t, a, grants[0].Owner)
	assert.Equal(t, DevQuote, grants[1].Asset)
	assert.Equal(t, num.MustParseUnits("0.25").Dec(), grants[1].Amount.Dec())

	_, err = ParseDevFunds(a.Hex() + ":" + DevBase.Hex() + ":-1")
	assert.Error(t, err)
}

func TestValidateRejectsUntradedDevFunds(t *testing.T) {
	cfg := Default()
	cfg.DevFunds = []Grant{{Owner: DevOwner, Asset: common.HexToAddress("0xdead"), Amount: num.MustParseUnits("1")}}
	assert.Error(t, cfg.Validate())
}

func TestMatcherSettings(t *testing.T) {
	t.Setenv("AUTO_MATCH", "true")
	t.Setenv("MATCH_INTERVAL_MS", "250")
	cfg, err := LoadFromEnv(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.True(t, cfg.Matcher.Enabled)
	assert.Equal(t, 250*time.Millisecond, cfg.Matcher.Interval)
	assert.Equal(t, DevOwner, cfg.MatcherAddress(), "defaults to the first genesis matcher")

	t.Setenv("MATCHER_ADDRESS", common.HexToAddress("0xbad").Hex())
	_, err = LoadFromEnv(filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err, "auto-match identity must be a genesis matcher")
}
