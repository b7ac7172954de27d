package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"Provability/client"
	"Provability/internal/address"
	"Provability/internal/enclave"
	"Provability/internal/logger"
)

// attestOptions are the inputs of one evaluation.
type attestOptions struct {
	node           string
	bounty         string
	submission     string
	commitmentPath string
	keyPath        string
	programPath    string
	ttl            int64
	walletPath     string
}

// attestOutput is printed after an evaluation.
type attestOutput struct {
	Pass        bool           `json:"pass"`
	SSE         uint64         `json:"sse"`
	Payload     string         `json:"payload"`
	Attestation string         `json:"attestation"`
	Finalized   *client.Result `json:"finalized,omitempty"`
}

func newAttestCmd(a *app) *cobra.Command {
	var o attestOptions

	cmd := &cobra.Command{
		Use:   "attest",
		Short: "Score a submission in the reference enclave and optionally finalize it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out, err := attest(cmd.Context(), a.cfg, o)
			if err != nil {
				return err
			}

			return writeJSON(cmd, "", out)
		},
	}

	f := cmd.Flags()
	f.StringVar(&o.node, "node", "127.0.0.1:8080", "escrow node API address")
	f.StringVar(&o.bounty, "bounty", "", "bounty address")
	f.StringVar(&o.submission, "submission", "", "submission address")
	f.StringVar(&o.commitmentPath, "commitment", "", "commitment file written by commit")
	f.StringVar(&o.keyPath, "key", "", "attester key file")
	f.StringVar(&o.programPath, "program", "", "evaluation wasm (built-in threshold program when empty)")
	f.Int64Var(&o.ttl, "ttl", 600, "attestation lifetime in seconds")
	f.StringVar(&o.walletPath, "finalize-with", "", "wallet key file; finalizes the bounty when set")

	for _, name := range []string{"bounty", "submission", "commitment", "key"} {
		cmd.MarkFlagRequired(name)
	}

	return cmd
}

// attest fetches the records and predictions, evaluates them and, with a wallet,
// submits the attested result.
func attest(ctx context.Context, cfg Config, o attestOptions) (*attestOutput, error) {
	bountyAddr, err := address.Parse(o.bounty)
	if err != nil {
		return nil, fmt.Errorf("bounty:\n%w", err)
	}

	subAddr, err := address.Parse(o.submission)
	if err != nil {
		return nil, fmt.Errorf("submission:\n%w", err)
	}

	var c Commitment
	if err := readJSON(o.commitmentPath, &c); err != nil {
		return nil, err
	}

	key, err := loadAttester(o.keyPath)
	if err != nil {
		return nil, err
	}

	program := enclave.ThresholdProgram
	if o.programPath != "" {
		if program, err = os.ReadFile(o.programPath); err != nil {
			return nil, fmt.Errorf("read program:\n%w", err)
		}
	}

	node := client.New(o.node)

	b, err := node.Bounty(ctx, bountyAddr)
	if err != nil {
		return nil, err
	}

	sub, err := node.Submission(ctx, subAddr)
	if err != nil {
		return nil, err
	}

	store, err := blobStore(cfg)
	if err != nil {
		return nil, err
	}

	raw, err := store.Get(ctx, sub.DataURI)
	if err != nil {
		return nil, fmt.Errorf("fetch predictions:\n%w", err)
	}

	var preds []int64
	if err := json.Unmarshal(raw, &preds); err != nil {
		return nil, fmt.Errorf("decode predictions:\n%w", err)
	}

	enc, err := enclave.New(ctx, program, key, o.ttl)
	if err != nil {
		return nil, err
	}
	defer enc.Close(ctx)

	start := time.Now()

	ev, err := enc.Evaluate(ctx, enclave.Job{
		Bounty:     b,
		Submission: sub,
		Preds:      preds,
		Labels:     c.TestLabels,
	}, time.Now().Unix())
	if err != nil {
		return nil, err
	}

	logger.Info("submission scored",
		"bounty", b.Address.Short(),
		"submission", sub.Address.Short(),
		"pass", ev.Result.Pass,
		logger.Timed(start),
	)

	out := &attestOutput{
		Pass:        ev.Result.Pass,
		SSE:         ev.SSE,
		Payload:     hex.EncodeToString(ev.Payload),
		Attestation: hex.EncodeToString(ev.Attestation),
	}

	if o.walletPath == "" {
		return out, nil
	}

	w, err := loadWallet(o.walletPath)
	if err != nil {
		return nil, err
	}

	if out.Finalized, err = w.Finalize(ctx, node, b.Address, sub.Address, ev.Payload, ev.Attestation); err != nil {
		return nil, err
	}

	return out, nil
}
