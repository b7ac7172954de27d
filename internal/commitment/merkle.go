// Package commitment computes the dataset and prediction commitments a bounty stores.
//
// Rows and merkle nodes are hashed with blake3. Roots are therefore not interchangeable
// with sha256 merkle trees built by other tooling, even over identical rows; a bounty's
// testset commitment must come from RowHashes and MerkleRoot here.
package commitment

import (
	"github.com/zeebo/blake3"

	"Provability/internal/protocol"
)

// RowHash hashes one raw dataset row into a merkle leaf.
func RowHash(row []byte) protocol.Hash {
	return blake3.Sum256(row)
}

// RowHashes hashes every row in order.
func RowHashes(rows [][]byte) []protocol.Hash {
	out := make([]protocol.Hash, len(rows))
	for i, r := range rows {
		out[i] = RowHash(r)
	}

	return out
}

// MerkleRoot folds leaves pairwise with blake3 until one node remains.
// A level with an odd count pairs its last node with itself. No leaves gives the zero hash.
func MerkleRoot(leaves []protocol.Hash) protocol.Hash {
	if len(leaves) == 0 {
		return protocol.Hash{}
	}

	level := append([]protocol.Hash(nil), leaves...)

	for len(level) > 1 {
		next := make([]protocol.Hash, 0, (len(level)+1)/2)

		for i := 0; i < len(level); i += 2 {
			right := level[i]
			if i+1 < len(level) {
				right = level[i+1]
			}
			next = append(next, hashPair(level[i], right))
		}

		level = next
	}

	return level[0]
}

// hashPair returns blake3(left || right).
func hashPair(left, right protocol.Hash) protocol.Hash {
	var buf [64]byte
	copy(buf[:32], left[:])
	copy(buf[32:], right[:])

	return blake3.Sum256(buf[:])
}
