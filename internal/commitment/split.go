package commitment

import (
	"fmt"
	"math/rand/v2"

	"Provability/internal/protocol"
)

// TrainPercent is the share of rows assigned to the training split.
const TrainPercent = 80

// Split is a seeded train/test partition of a committed dataset.
type Split struct {
	TrainRoot    protocol.Hash // TrainRoot commits to the shuffled training rows
	TestRoot     protocol.Hash // TestRoot commits to the shuffled test rows; bounties store it
	TrainIndices []uint32      // TrainIndices are original row positions, in shuffled order
	TestIndices  []uint32      // TestIndices are original row positions, in shuffled order
}

// SplitRows shuffles row hashes with a ChaCha8 stream keyed by seed and splits them 80/20.
// The rows must hash to expectedRoot, so a dataset cannot be swapped after it was committed.
func SplitRows(rowHashes []protocol.Hash, seed [32]byte, expectedRoot protocol.Hash) (*Split, error) {
	if root := MerkleRoot(rowHashes); root != expectedRoot {
		return nil, fmt.Errorf("dataset root %s does not match commitment %s", root, expectedRoot)
	}

	shuffled := append([]protocol.Hash(nil), rowHashes...)
	indices := make([]uint32, len(rowHashes))
	for i := range indices {
		indices[i] = uint32(i)
	}

	rng := rand.New(rand.NewChaCha8(seed))

	// Fisher-Yates from the back.
	for i := len(shuffled) - 1; i > 0; i-- {
		j := rng.IntN(i + 1)
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		indices[i], indices[j] = indices[j], indices[i]
	}

	cut := len(shuffled) * TrainPercent / 100

	return &Split{
		TrainRoot:    MerkleRoot(shuffled[:cut]),
		TestRoot:     MerkleRoot(shuffled[cut:]),
		TrainIndices: indices[:cut],
		TestIndices:  indices[cut:],
	}, nil
}
