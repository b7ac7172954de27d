// Package snapshot exports and imports the ledger keyspace as one checksummed file.
package snapshot

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"slices"

	flatbuffers "github.com/google/flatbuffers/go"
	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"

	"Provability/internal/storage"
	"Provability/internal/types"
)

const (
	// Version is the current snapshot format version.
	Version = 1

	// maxDecompressed bounds the memory Decompress may allocate.
	maxDecompressed = 1 << 30
)

// Info describes a snapshot that was created or applied.
type Info struct {
	Version   uint32
	CreatedAt int64
	Entries   int
	Checksum  [32]byte
}

// entry is one ledger key and its value.
type entry struct {
	key   []byte
	value []byte
}

// Create captures every key under prefixes, sorted by key, stamped with createdAt.
func Create(db *storage.Storage, prefixes [][]byte, createdAt int64) ([]byte, *Info, error) {
	entries, err := collect(db, prefixes)
	if err != nil {
		return nil, nil, fmt.Errorf("collect entries:\n%w", err)
	}

	checksum := computeChecksum(Version, createdAt, entries)

	return build(createdAt, entries, checksum), &Info{
		Version:   Version,
		CreatedAt: createdAt,
		Entries:   len(entries),
		Checksum:  checksum,
	}, nil
}

// collect copies every key under prefixes out of storage.
func collect(db *storage.Storage, prefixes [][]byte) ([]entry, error) {
	var entries []entry

	for _, prefix := range prefixes {
		err := db.IteratePrefix(prefix, func(key, value []byte) error {
			// Iterator buffers are reused.
			entries = append(entries, entry{
				key:   bytes.Clone(key),
				value: bytes.Clone(value),
			})
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	sortEntries(entries)

	return entries, nil
}

func sortEntries(entries []entry) {
	slices.SortFunc(entries, func(a, b entry) int {
		return bytes.Compare(a.key, b.key)
	})
}

// build encodes the flatbuffers container.
func build(createdAt int64, entries []entry, checksum [32]byte) []byte {
	builder := flatbuffers.NewBuilder(1024)

	offsets := make([]flatbuffers.UOffsetT, len(entries))
	for i, e := range entries {
		keyOffset := builder.CreateByteVector(e.key)
		valueOffset := builder.CreateByteVector(e.value)

		types.SnapshotEntryStart(builder)
		types.SnapshotEntryAddKey(builder, keyOffset)
		types.SnapshotEntryAddValue(builder, valueOffset)
		offsets[i] = types.SnapshotEntryEnd(builder)
	}

	types.SnapshotStartEntriesVector(builder, len(offsets))
	for i := len(offsets) - 1; i >= 0; i-- {
		builder.PrependUOffsetT(offsets[i])
	}
	entriesVector := builder.EndVector(len(offsets))

	checksumOffset := builder.CreateByteVector(checksum[:])

	types.SnapshotStart(builder)
	types.SnapshotAddVersion(builder, Version)
	types.SnapshotAddCreatedAt(builder, createdAt)
	types.SnapshotAddChecksum(builder, checksumOffset)
	types.SnapshotAddEntries(builder, entriesVector)
	builder.Finish(types.SnapshotEnd(builder))

	return builder.FinishedBytes()
}

// computeChecksum hashes the canonical form.
// Format: version (4 bytes BE) + createdAt (8 bytes BE) + per entry: u32 len + key + u32 len + value
func computeChecksum(version uint32, createdAt int64, entries []entry) [32]byte {
	hasher := blake3.New()

	var buf [8]byte
	binary.BigEndian.PutUint32(buf[:4], version)
	hasher.Write(buf[:4])

	binary.BigEndian.PutUint64(buf[:], uint64(createdAt))
	hasher.Write(buf[:])

	for _, e := range entries {
		binary.BigEndian.PutUint32(buf[:4], uint32(len(e.key)))
		hasher.Write(buf[:4])
		hasher.Write(e.key)

		binary.BigEndian.PutUint32(buf[:4], uint32(len(e.value)))
		hasher.Write(buf[:4])
		hasher.Write(e.value)
	}

	var checksum [32]byte
	hasher.Sum(checksum[:0])

	return checksum
}

// Apply verifies data and replaces every key under prefixes with its entries in one batch.
// Every entry must fall under one of prefixes. The ledger must not be serving while this runs.
func Apply(db *storage.Storage, prefixes [][]byte, data []byte) (*Info, error) {
	info, entries, err := parse(data)
	if err != nil {
		return nil, err
	}

	for _, e := range entries {
		if !hasAnyPrefix(e.key, prefixes) {
			return nil, fmt.Errorf("entry key %q outside ledger keyspace", e.key)
		}
	}

	existing, err := collect(db, prefixes)
	if err != nil {
		return nil, fmt.Errorf("collect existing:\n%w", err)
	}

	wb := storage.NewWriteBatch()
	for _, e := range existing {
		wb.Delete(e.key)
	}
	for _, e := range entries {
		wb.Set(e.key, e.value)
	}

	if err := db.Apply(wb); err != nil {
		return nil, fmt.Errorf("write entries:\n%w", err)
	}

	return info, nil
}

// Inspect verifies data without touching storage.
func Inspect(data []byte) (*Info, error) {
	info, _, err := parse(data)
	return info, err
}

// parse decodes and verifies a snapshot. Entries must be strictly ascending by key.
func parse(data []byte) (*Info, []entry, error) {
	var (
		info     Info
		entries  []entry
		checksum []byte
	)

	err := types.Read(func() {
		snap := types.GetRootAsSnapshot(data, 0)

		info.Version = snap.Version()
		info.CreatedAt = snap.CreatedAt()
		checksum = bytes.Clone(snap.ChecksumBytes())

		entries = make([]entry, snap.EntriesLength())

		var e types.SnapshotEntry
		for i := range entries {
			if !snap.Entries(&e, i) {
				panic(fmt.Sprintf("entry %d unreadable", i))
			}

			entries[i] = entry{
				key:   bytes.Clone(e.KeyBytes()),
				value: bytes.Clone(e.ValueBytes()),
			}
		}
	})
	if err != nil {
		return nil, nil, fmt.Errorf("decode snapshot:\n%w", err)
	}

	if info.Version != Version {
		return nil, nil, fmt.Errorf("unsupported snapshot version %d", info.Version)
	}

	if len(checksum) != 32 {
		return nil, nil, fmt.Errorf("invalid checksum length: %d", len(checksum))
	}

	for i := 1; i < len(entries); i++ {
		if bytes.Compare(entries[i-1].key, entries[i].key) >= 0 {
			return nil, nil, fmt.Errorf("entries not strictly sorted at %d", i)
		}
	}

	computed := computeChecksum(info.Version, info.CreatedAt, entries)
	if !bytes.Equal(computed[:], checksum) {
		return nil, nil, fmt.Errorf("checksum mismatch")
	}

	info.Entries = len(entries)
	info.Checksum = computed

	return &info, entries, nil
}

func hasAnyPrefix(key []byte, prefixes [][]byte) bool {
	for _, p := range prefixes {
		if bytes.HasPrefix(key, p) {
			return true
		}
	}

	return false
}

// Compress compresses snapshot data using zstd.
func Compress(data []byte) ([]byte, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create encoder:\n%w", err)
	}
	defer encoder.Close()

	return encoder.EncodeAll(data, nil), nil
}

// Decompress decompresses zstd-compressed snapshot data.
func Decompress(data []byte) ([]byte, error) {
	decoder, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxDecompressed))
	if err != nil {
		return nil, fmt.Errorf("create decoder:\n%w", err)
	}
	defer decoder.Close()

	return decoder.DecodeAll(data, nil)
}
