package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"Provability/internal/blobstore"
)

// blobStore builds the store for the configured backends. file:// is the default for
// writes unless an IPFS API is configured.
func blobStore(cfg Config) (*blobstore.Store, error) {
	file, err := blobstore.NewFileBackend(cfg.BlobDir)
	if err != nil {
		return nil, fmt.Errorf("open blob dir:\n%w", err)
	}

	if cfg.IPFSAPI == "" {
		return blobstore.New(file), nil
	}

	return blobstore.New(blobstore.NewIPFSBackend(cfg.IPFSAPI), file), nil
}

func newBlobCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "blob",
		Short: "Store and fetch prediction blobs",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "put FILE",
			Short: "Store a file and print its URI",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				store, err := blobStore(a.cfg)
				if err != nil {
					return err
				}

				data, err := os.ReadFile(args[0])
				if err != nil {
					return err
				}

				uri, err := store.Put(cmd.Context(), data)
				if err != nil {
					return err
				}

				fmt.Fprintln(cmd.OutOrStdout(), uri)
				return nil
			},
		},
		&cobra.Command{
			Use:   "get URI",
			Short: "Write a stored blob to stdout",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				store, err := blobStore(a.cfg)
				if err != nil {
					return err
				}

				data, err := store.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}

				_, err = cmd.OutOrStdout().Write(data)
				return err
			},
		},
	)

	return cmd
}
