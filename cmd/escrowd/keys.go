package main

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"Provability/client"
	"Provability/internal/attestation"
)

func newKeygenCmd(_ *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate wallet and attester keys",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "wallet FILE",
			Short: "Write a new ed25519 wallet seed",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				seed, err := writeSeed(args[0])
				if err != nil {
					return err
				}

				w, err := client.WalletFromSeed(seed)
				if err != nil {
					return err
				}

				fmt.Fprintln(cmd.OutOrStdout(), w.Address())
				return nil
			},
		},
		&cobra.Command{
			Use:   "attester FILE",
			Short: "Write a new BLS attester seed",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				seed, err := writeSeed(args[0])
				if err != nil {
					return err
				}

				key, err := attestation.KeyFromSeed(seed)
				if err != nil {
					return err
				}

				fmt.Fprintln(cmd.OutOrStdout(), key.Identity())
				return nil
			},
		},
	)

	return cmd
}

// writeSeed stores 32 random bytes as hex at path. Existing files are never replaced.
func writeSeed(path string) ([]byte, error) {
	seed := make([]byte, 32)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("generate seed:\n%w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create key file:\n%w", err)
	}

	if _, err := f.WriteString(hex.EncodeToString(seed) + "\n"); err != nil {
		f.Close()
		return nil, fmt.Errorf("write key file:\n%w", err)
	}

	return seed, f.Close()
}

// readSeed loads a hex seed written by writeSeed.
func readSeed(path string) ([]byte, error) {
	if path == "" {
		return nil, errors.New("key file not set")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file:\n%w", err)
	}

	seed, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("decode key file %s:\n%w", path, err)
	}

	return seed, nil
}

func loadWallet(path string) (*client.Wallet, error) {
	seed, err := readSeed(path)
	if err != nil {
		return nil, err
	}

	return client.WalletFromSeed(seed)
}

func loadAttester(path string) (*attestation.Key, error) {
	seed, err := readSeed(path)
	if err != nil {
		return nil, err
	}

	return attestation.KeyFromSeed(seed)
}
