package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"Provability/internal/escrow"
	"Provability/internal/logger"
	"Provability/internal/snapshot"
	"Provability/internal/storage"
)

func newSnapshotCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Export or import the ledger. The node must be stopped.",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "export FILE",
			Short: "Write a compressed ledger snapshot",
			Args:  cobra.ExactArgs(1),
			RunE: func(_ *cobra.Command, args []string) error {
				return exportSnapshot(a.cfg.Data, args[0])
			},
		},
		&cobra.Command{
			Use:   "import FILE",
			Short: "Replace the ledger with a snapshot",
			Args:  cobra.ExactArgs(1),
			RunE: func(_ *cobra.Command, args []string) error {
				return importSnapshot(a.cfg.Data, args[0])
			},
		},
	)

	return cmd
}

func exportSnapshot(dataDir, path string) error {
	db, err := storage.New(dataDir)
	if err != nil {
		return fmt.Errorf("open storage:\n%w", err)
	}
	defer db.Close()

	data, info, err := snapshot.Create(db, escrow.Prefixes(), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("create snapshot:\n%w", err)
	}

	compressed, err := snapshot.Compress(data)
	if err != nil {
		return fmt.Errorf("compress snapshot:\n%w", err)
	}

	if err := os.WriteFile(path, compressed, 0o644); err != nil {
		return fmt.Errorf("write snapshot:\n%w", err)
	}

	logger.Info("snapshot exported",
		"entries", info.Entries,
		"checksum", fmt.Sprintf("%x", info.Checksum[:8]),
		"raw", len(data),
		"compressed", len(compressed),
	)

	return nil
}

func importSnapshot(dataDir, path string) error {
	compressed, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read snapshot:\n%w", err)
	}

	data, err := snapshot.Decompress(compressed)
	if err != nil {
		return fmt.Errorf("decompress snapshot:\n%w", err)
	}

	db, err := storage.New(dataDir)
	if err != nil {
		return fmt.Errorf("open storage:\n%w", err)
	}
	defer db.Close()

	info, err := snapshot.Apply(db, escrow.Prefixes(), data)
	if err != nil {
		return fmt.Errorf("apply snapshot:\n%w", err)
	}

	logger.Info("snapshot imported",
		"entries", info.Entries,
		"created_at", info.CreatedAt,
		"checksum", fmt.Sprintf("%x", info.Checksum[:8]),
	)

	return nil
}
