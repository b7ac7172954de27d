package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"Provability/client"
	"Provability/internal/address"
	"Provability/internal/commitment"
	"Provability/internal/enclave"
	"Provability/internal/escrow"
	"Provability/internal/protocol"
)

func newTxCmd(a *app) *cobra.Command {
	var node, walletPath string

	cmd := &cobra.Command{
		Use:   "tx",
		Short: "Sign and send escrow transactions",
	}

	cmd.PersistentFlags().StringVar(&node, "node", "127.0.0.1:8080", "escrow node API address")
	cmd.PersistentFlags().StringVar(&walletPath, "wallet", "", "wallet key file")

	// send signs with the wallet and prints the node's receipt.
	send := func(cmd *cobra.Command, fn func(*client.Wallet, *client.Client) (*client.Result, error)) error {
		w, err := loadWallet(walletPath)
		if err != nil {
			return err
		}

		res, err := fn(w, client.New(node))
		if err != nil {
			return err
		}

		return writeJSON(cmd, "", res)
	}

	cmd.AddCommand(
		newCreateCmd(send),
		newSubmitCmd(a, send),
		&cobra.Command{
			Use:   "reclaim BOUNTY",
			Short: "Return the escrow of an expired bounty",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				bounty, err := address.Parse(args[0])
				if err != nil {
					return err
				}

				return send(cmd, func(w *client.Wallet, c *client.Client) (*client.Result, error) {
					return w.Reclaim(cmd.Context(), c, bounty)
				})
			},
		},
	)

	return cmd
}

type sendFunc func(*cobra.Command, func(*client.Wallet, *client.Client) (*client.Result, error)) error

func newCreateCmd(send sendFunc) *cobra.Command {
	var (
		commitmentPath string
		seedHex        string
		amount         uint64
		deadline       time.Duration
		attester       string
		measurement    string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Escrow a bounty over a committed test split",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var c Commitment
			if err := readJSON(commitmentPath, &c); err != nil {
				return err
			}

			p, err := bountyParams(c, seedHex, attester, measurement)
			if err != nil {
				return err
			}
			p.Amount = amount
			p.DeadlineTs = time.Now().Add(deadline).Unix()

			return send(cmd, func(w *client.Wallet, node *client.Client) (*client.Result, error) {
				return w.CreateBounty(cmd.Context(), node, p)
			})
		},
	}

	f := cmd.Flags()
	f.StringVar(&commitmentPath, "commitment", "", "commitment file written by commit")
	f.StringVar(&seedHex, "seed", "", "16-byte hex bounty seed (random when empty)")
	f.Uint64Var(&amount, "amount", 0, "amount to escrow")
	f.DurationVar(&deadline, "deadline", 24*time.Hour, "submission window from now")
	f.StringVar(&attester, "attester", "", "allowed attester identity")
	f.StringVar(&measurement, "measurement", "", "allowed enclave measurement (built-in program when empty)")
	for _, name := range []string{"commitment", "amount", "attester"} {
		cmd.MarkFlagRequired(name)
	}

	return cmd
}

// bountyParams fills the committed evaluation parameters of a new bounty.
func bountyParams(c Commitment, seedHex, attester, measurement string) (escrow.CreateBountyParams, error) {
	p := escrow.CreateBountyParams{
		N:                  c.N,
		Scale:              c.Scale,
		ThresholdT2:        c.ThresholdT2,
		EvalSpecHash:       c.EvalSpecHash,
		TestsetCommitment:  c.TestsetCommitment,
		AllowedMeasurement: enclave.Measure(enclave.ThresholdProgram),
	}

	seed, err := parseBountySeed(seedHex)
	if err != nil {
		return p, err
	}
	p.Seed = seed

	if p.AllowedAttester, err = address.Parse(attester); err != nil {
		return p, fmt.Errorf("attester:\n%w", err)
	}

	if measurement != "" {
		if err := p.AllowedMeasurement.UnmarshalText([]byte(measurement)); err != nil {
			return p, fmt.Errorf("measurement:\n%w", err)
		}
	}

	return p, nil
}

// parseBountySeed decodes a hex bounty seed, drawing a random one when s is empty.
func parseBountySeed(s string) ([address.SeedSize]byte, error) {
	var seed [address.SeedSize]byte

	if s == "" {
		_, err := rand.Read(seed[:])
		return seed, err
	}

	b, err := hex.DecodeString(s)
	if err != nil || len(b) != address.SeedSize {
		return seed, fmt.Errorf("bounty seed must be %d hex bytes", address.SeedSize)
	}
	copy(seed[:], b)

	return seed, nil
}

func newSubmitCmd(a *app, send sendFunc) *cobra.Command {
	var bounty, predsPath string

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Store predictions and commit to them on a bounty",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			bountyAddr, err := address.Parse(bounty)
			if err != nil {
				return err
			}

			var preds []int64
			if err := readJSON(predsPath, &preds); err != nil {
				return err
			}

			raw, err := os.ReadFile(predsPath)
			if err != nil {
				return err
			}

			store, err := blobStore(a.cfg)
			if err != nil {
				return err
			}

			uri, err := store.Put(cmd.Context(), raw)
			if err != nil {
				return fmt.Errorf("store predictions:\n%w", err)
			}

			if len(uri) > protocol.MaxDataURILen {
				return fmt.Errorf("blob URI exceeds %d bytes", protocol.MaxDataURILen)
			}

			return send(cmd, func(w *client.Wallet, node *client.Client) (*client.Result, error) {
				return w.Submit(cmd.Context(), node, bountyAddr, commitment.PredsHash(preds), uri)
			})
		},
	}

	cmd.Flags().StringVar(&bounty, "bounty", "", "bounty address")
	cmd.Flags().StringVar(&predsPath, "preds", "", "JSON array of fixed-point predictions")
	cmd.MarkFlagRequired("bounty")
	cmd.MarkFlagRequired("preds")

	return cmd
}
