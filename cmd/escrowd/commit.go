package main

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"Provability/internal/commitment"
	"Provability/internal/enclave"
	"Provability/internal/protocol"
)

// Commitment is what a bounty creator derives from a labelled dataset. The public part
// goes into the bounty; TestLabels stay with the enclave operator.
type Commitment struct {
	Seed              string           `json:"seed"`
	DatasetRoot       protocol.Hash    `json:"datasetRoot"`
	TrainRoot         protocol.Hash    `json:"trainRoot"`
	TestsetCommitment protocol.Hash    `json:"testsetCommitment"`
	EvalSpecHash      protocol.Hash    `json:"evalSpecHash"`
	N                 uint32           `json:"n"`
	Scale             uint32           `json:"scale"`
	ThresholdT2       protocol.Uint128 `json:"thresholdT2"`
	TrainIndices      []uint32         `json:"trainIndices"`
	TestIndices       []uint32         `json:"testIndices"`
	TestLabels        []int64          `json:"testLabels"`
}

func newCommitCmd(_ *app) *cobra.Command {
	var (
		labelsPath string
		seedHex    string
		scale      uint32
		t2         string
		out        string
	)

	cmd := &cobra.Command{
		Use:   "commit",
		Short: "Split a labelled dataset and derive the bounty commitments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var labels []int64
			if err := readJSON(labelsPath, &labels); err != nil {
				return err
			}

			var threshold protocol.Uint128
			if err := threshold.UnmarshalText([]byte(t2)); err != nil {
				return fmt.Errorf("parse t2:\n%w", err)
			}

			seed, err := parseSeed(seedHex)
			if err != nil {
				return err
			}

			c, err := commit(labels, seed, scale, threshold)
			if err != nil {
				return err
			}

			return writeJSON(cmd, out, c)
		},
	}

	f := cmd.Flags()
	f.StringVar(&labelsPath, "labels", "", "JSON array of fixed-point labels")
	f.StringVar(&seedHex, "seed", "", "32-byte hex split seed (random when empty)")
	f.Uint32Var(&scale, "scale", 1, "fixed-point scale of the threshold")
	f.StringVar(&t2, "t2", "0", "threshold numerator, decimal")
	f.StringVarP(&out, "out", "o", "", "output file (stdout when empty)")
	cmd.MarkFlagRequired("labels")

	return cmd
}

// commit splits labels by seed and derives the testset and evaluation commitments.
func commit(labels []int64, seed [32]byte, scale uint32, t2 protocol.Uint128) (*Commitment, error) {
	if len(labels) == 0 {
		return nil, fmt.Errorf("dataset is empty")
	}

	hashes := commitment.RowHashes(enclave.LabelRows(labels))
	root := commitment.MerkleRoot(hashes)

	split, err := commitment.SplitRows(hashes, seed, root)
	if err != nil {
		return nil, err
	}

	if len(split.TestIndices) == 0 {
		return nil, fmt.Errorf("dataset of %d rows leaves no test rows", len(labels))
	}

	test := make([]int64, len(split.TestIndices))
	for i, idx := range split.TestIndices {
		test[i] = labels[idx]
	}

	testset, evalSpec := enclave.Commitments(test, scale, t2)
	if testset != split.TestRoot {
		return nil, fmt.Errorf("test root %s disagrees with split %s", testset, split.TestRoot)
	}

	return &Commitment{
		Seed:              hex.EncodeToString(seed[:]),
		DatasetRoot:       root,
		TrainRoot:         split.TrainRoot,
		TestsetCommitment: testset,
		EvalSpecHash:      evalSpec,
		N:                 uint32(len(test)),
		Scale:             scale,
		ThresholdT2:       t2,
		TrainIndices:      split.TrainIndices,
		TestIndices:       split.TestIndices,
		TestLabels:        test,
	}, nil
}

// parseSeed decodes a 32-byte hex seed, drawing a random one when s is empty.
func parseSeed(s string) ([32]byte, error) {
	var seed [32]byte

	if s == "" {
		_, err := rand.Read(seed[:])
		return seed, err
	}

	b, err := hex.DecodeString(s)
	if err != nil || len(b) != len(seed) {
		return seed, fmt.Errorf("seed must be %d hex bytes", len(seed))
	}
	copy(seed[:], b)

	return seed, nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s:\n%w", path, err)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s:\n%w", path, err)
	}

	return nil
}

// writeJSON writes v indented to path, or to the command output when path is empty.
func writeJSON(cmd *cobra.Command, path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')

	if path == "" {
		_, err = cmd.OutOrStdout().Write(data)
		return err
	}

	return os.WriteFile(path, data, 0o600)
}
