// Command sign-call builds and signs relay envelopes for the ledger, so a
// wallet-less client (or a test script) can submit meta-transactions to
// POST /api/v1/relay.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/uhyunpark/hyperclob/params"
	"github.com/uhyunpark/hyperclob/pkg/app/core/transaction"
	"github.com/uhyunpark/hyperclob/pkg/crypto"
)

const (
	outputFlagName       = "output"
	outputFlagValJSON    = "json"
	outputFlagValTyped   = "typed-data"
	outputFlagValRequest = "request"
)

// globalOpts are the flags shared by every call subcommand.
type globalOpts struct {
	key      string
	chainID  string
	ledger   string
	nonce    uint64
	deadline int64
	ttl      time.Duration
	decimal  bool
	output   string
}

func main() {
	if err := newRootCmd(os.Stdout, time.Now).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer, now func() time.Time) *cobra.Command {
	opts := &globalOpts{}
	root := &cobra.Command{
		Use:           "sign-call",
		Short:         "Sign a ledger call as a relay envelope",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.SetOut(out)

	f := root.PersistentFlags()
	f.StringVar(&opts.key, "key", os.Getenv("SIGNER_KEY"), "hex private key of the signer (a fresh key is generated when empty)")
	f.StringVar(&opts.chainID, "chain-id", params.Default().Ledger.ChainID.String(), "EIP-712 domain chain id")
	f.StringVar(&opts.ledger, "ledger", params.DevLedger.Hex(), "EIP-712 verifying contract (ledger address)")
	f.Uint64Var(&opts.nonce, "nonce", 1, "relay nonce, strictly greater than the signer's last one")
	f.Int64Var(&opts.deadline, "deadline", 0, "unix seconds after which the envelope expires (default now + ttl)")
	f.DurationVar(&opts.ttl, "ttl", time.Hour, "validity window used when --deadline is not set")
	f.BoolVar(&opts.decimal, "decimal", true, "amounts and prices are whole-unit decimals instead of base-unit integers")
	f.StringVar(&opts.output, outputFlagName, outputFlagValJSON, "output: json, typed-data, request")

	for _, spec := range callCommands(opts) {
		spec.cmd.RunE = signAndPrint(opts, now, spec.build)
		root.AddCommand(spec.cmd)
	}
	return root
}

// callSpec pairs a subcommand with the function that turns its flags into
// a call.
type callSpec struct {
	cmd   *cobra.Command
	build func() (transaction.Method, any, error)
}

// signAndPrint builds the subcommand's call, then signs and prints it.
func signAndPrint(opts *globalOpts, now func() time.Time, build func() (transaction.Method, any, error)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		method, callArgs, err := build()
		if err != nil {
			return err
		}

		signer, generated, err := loadSigner(opts.key)
		if err != nil {
			return err
		}
		domain, err := opts.domain()
		if err != nil {
			return err
		}
		data, err := transaction.EncodeCall(method, callArgs)
		if err != nil {
			return err
		}
		deadline := opts.deadline
		if deadline == 0 {
			deadline = now().Add(opts.ttl).Unix()
		}
		env, err := transaction.NewEnvelope(domain, signer, data, opts.nonce, deadline)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if generated {
			fmt.Fprintf(cmd.ErrOrStderr(), "generated key %s for %s (KEEP SECRET!)\n", signer.PrivateKeyHex(), signer.Address().Hex())
		}
		switch opts.output {
		case outputFlagValJSON:
			return printJSON(out, env)
		case outputFlagValTyped:
			req, err := env.Request()
			if err != nil {
				return err
			}
			typed, err := domain.TypedDataJSON(req)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(out, typed)
			return err
		case outputFlagValRequest:
			return printJSON(out, struct {
				Method   transaction.Method    `json:"method"`
				Envelope *transaction.Envelope `json:"envelope"`
				Relay    string                `json:"relay"`
			}{method, env, "POST /api/v1/relay"})
		default:
			return fmt.Errorf("%s flag must be one of %q, %q or %q", outputFlagName, outputFlagValJSON, outputFlagValTyped, outputFlagValRequest)
		}
	}
}

func (o *globalOpts) domain() (crypto.Domain, error) {
	id, ok := new(big.Int).SetString(o.chainID, 10)
	if !ok || id.Sign() <= 0 {
		return crypto.Domain{}, fmt.Errorf("invalid chain id %q", o.chainID)
	}
	if !common.IsHexAddress(o.ledger) {
		return crypto.Domain{}, fmt.Errorf("invalid ledger address %q", o.ledger)
	}
	return crypto.ForwarderDomain(id, common.HexToAddress(o.ledger)), nil
}

func loadSigner(key string) (signer *crypto.Signer, generated bool, err error) {
	if key == "" {
		signer, err = crypto.GenerateKey()
		return signer, true, err
	}
	signer, err = crypto.FromPrivateKeyHex(key)
	return signer, false, err
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
