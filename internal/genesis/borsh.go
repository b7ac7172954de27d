package genesis

import (
	"encoding/binary"

	"Provability/internal/escrow"
)

// encodeAllocations encodes allocations in Borsh format, in the order given.
// Format: u32 count (little-endian) + count * ([u8; 32] account + u64 balance)
func encodeAllocations(allocs []escrow.Allocation) []byte {
	buf := make([]byte, 4, 4+len(allocs)*(32+8))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(allocs)))

	for _, a := range allocs {
		buf = append(buf, a.Account[:]...)
		buf = binary.LittleEndian.AppendUint64(buf, a.Balance)
	}

	return buf
}
