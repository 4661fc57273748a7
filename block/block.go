// Package block implements the block codec (C2): packing and unpacking one
// fixed-size on-disk block consisting of a 12-byte header (record count,
// previous RBN, next RBN) followed by a run of length-indicated records.
package block

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/caseyhaas/zipbss"
	"github.com/caseyhaas/zipbss/record"
)

// HeaderSize is the fixed width, in bytes, of a block's count/prev/next
// header fields.
const HeaderSize = 12

const fieldWidth = 4

// Block is the in-memory form of one on-disk block. A block with no
// records is an availability block; its NextRBN is the next link in the
// free list and PrevRBN is unused.
type Block struct {
	Size      int
	SizeBytes int
	Binary    bool
	PrevRBN   int32
	NextRBN   int32
	Records   []zipbss.Record
}

// New allocates an empty active block.
func New(size, sizeBytes int, binary bool) *Block {
	return &Block{
		Size:      size,
		SizeBytes: sizeBytes,
		Binary:    binary,
		PrevRBN:   zipbss.InvalidRBN,
		NextRBN:   zipbss.InvalidRBN,
	}
}

// RecordCount returns the number of live records in the block.
func (b *Block) RecordCount() int { return len(b.Records) }

// IsAvail reports whether this block is an availability-list entry: a
// record count of zero means availability block, regardless of what bytes
// sit after the header.
func (b *Block) IsAvail() bool { return len(b.Records) == 0 }

// HighestKey returns the key of the last (greatest) record, or "" if empty.
func (b *Block) HighestKey() string {
	if len(b.Records) == 0 {
		return ""
	}
	return b.Records[len(b.Records)-1].Zip
}

// LowestKey returns the key of the first (smallest) record, or "" if empty.
func (b *Block) LowestKey() string {
	if len(b.Records) == 0 {
		return ""
	}
	return b.Records[0].Zip
}

func (b *Block) usedSpace() int {
	used := HeaderSize
	for _, r := range b.Records {
		used += record.EncodedLength(r, b.SizeBytes)
	}
	return used
}

// AvailableSpace returns the number of bytes not yet used by the header and
// the currently held records.
func (b *Block) AvailableSpace() int {
	return b.Size - b.usedSpace()
}

// UsagePercent returns the fraction of the block currently in use, 0-100.
func (b *Block) UsagePercent() float64 {
	if b.Size == 0 {
		return 0
	}
	return float64(b.usedSpace()) / float64(b.Size) * 100
}

// findGreater returns the smallest index i such that Records[i].Zip > key,
// or len(Records) if none. Mirrors leafBlock.findGreater.
func (b *Block) findGreater(key string) int {
	return sort.Search(len(b.Records), func(i int) bool { return b.Records[i].Zip > key })
}

// findEqual returns the index of the record with the given key, or -1.
func (b *Block) findEqual(key string) int {
	i := sort.Search(len(b.Records), func(i int) bool { return b.Records[i].Zip >= key })
	if i < len(b.Records) && b.Records[i].Zip == key {
		return i
	}
	return -1
}

// AddRecord inserts r in sorted position if it fits, returning false
// (without mutation) if the block lacks the space.
func (b *Block) AddRecord(r zipbss.Record) (bool, error) {
	if err := record.Validate(r); err != nil {
		return false, err
	}
	need := record.EncodedLength(r, b.SizeBytes)
	if b.usedSpace()+need > b.Size {
		return false, nil
	}
	n := len(b.Records)
	i := b.findGreater(r.Zip)
	b.Records = append(b.Records, zipbss.Record{})
	copy(b.Records[i+1:], b.Records[i:n])
	b.Records[i] = r
	return true, nil
}

// RemoveRecord removes the record with the given key, if present.
func (b *Block) RemoveRecord(key string) bool {
	i := b.findEqual(key)
	if i < 0 {
		return false
	}
	b.Records = append(b.Records[:i], b.Records[i+1:]...)
	return true
}

// FindRecord returns the record with the given key, if present.
func (b *Block) FindRecord(key string) (zipbss.Record, bool) {
	i := b.findEqual(key)
	if i < 0 {
		return zipbss.Record{}, false
	}
	return b.Records[i], true
}

// Split moves the upper ceil(n/2) records to a newly allocated block,
// leaving the lower floor(n/2) in b. The new block inherits b's NextRBN;
// b's own NextRBN and both blocks' PrevRBN are left for the caller, which
// knows the RBNs involved. Precondition: at least 2 records.
func (b *Block) Split() (*Block, error) {
	if len(b.Records) < 2 {
		return nil, zipbss.NewCorruption("cannot split a block with fewer than 2 records")
	}
	mid := len(b.Records) / 2
	newBlock := New(b.Size, b.SizeBytes, b.Binary)
	newBlock.NextRBN = b.NextRBN
	newBlock.Records = append([]zipbss.Record(nil), b.Records[mid:]...)
	b.Records = b.Records[:mid]
	return newBlock, nil
}

// MergeWith absorbs other's records into b if the combined contents fit;
// returns false (without mutation) otherwise.
func (b *Block) MergeWith(other *Block) bool {
	merged := make([]zipbss.Record, 0, len(b.Records)+len(other.Records))
	merged = append(merged, b.Records...)
	merged = append(merged, other.Records...)
	sort.Slice(merged, func(i, j int) bool { return merged[i].Zip < merged[j].Zip })
	size := HeaderSize
	for _, r := range merged {
		size += record.EncodedLength(r, b.SizeBytes)
	}
	if size > b.Size {
		return false
	}
	b.Records = merged
	return true
}

// ConvertToAvail drops all records and relinks the block as the new head
// of the availability list, pointing at the previous head.
func (b *Block) ConvertToAvail(previousAvailHead int32) {
	b.Records = nil
	b.PrevRBN = zipbss.InvalidRBN
	b.NextRBN = previousAvailHead
}

// Marshal packs b into a Size-byte buffer: 12-byte header followed by each
// record's length-indicated encoding, space-padded to fill the block.
func (b *Block) Marshal() ([]byte, error) {
	buf := make([]byte, b.Size)
	pos := HeaderSize
	for _, r := range b.Records {
		enc, err := record.Encode(r, b.SizeBytes, b.Binary)
		if err != nil {
			return nil, err
		}
		if pos+len(enc) > b.Size {
			return nil, zipbss.NewCorruption("block contents (%d records) overflow its own %d-byte size", len(b.Records), b.Size)
		}
		copy(buf[pos:], enc)
		pos += len(enc)
	}
	for i := pos; i < b.Size; i++ {
		buf[i] = ' '
	}
	writeHeader(buf, len(b.Records), b.PrevRBN, b.NextRBN)
	return buf, nil
}

// Unmarshal parses a Size-byte buffer into a Block.
func Unmarshal(buf []byte, sizeBytes int, binary bool) (*Block, error) {
	if len(buf) < HeaderSize {
		return nil, zipbss.NewFormatError("block.Unmarshal", fmt.Errorf("buffer of %d bytes is shorter than the %d-byte block header", len(buf), HeaderSize))
	}
	count, prev, next, err := readHeader(buf)
	if err != nil {
		return nil, zipbss.NewFormatError("block.Unmarshal", err)
	}
	b := &Block{
		Size:      len(buf),
		SizeBytes: sizeBytes,
		Binary:    binary,
		PrevRBN:   prev,
		NextRBN:   next,
	}
	if count <= 0 {
		return b, nil
	}
	pos := HeaderSize
	b.Records = make([]zipbss.Record, 0, count)
	for i := 0; i < count; i++ {
		rec, n, err := record.Decode(buf[pos:], sizeBytes, binary)
		if err != nil {
			return nil, err
		}
		b.Records = append(b.Records, rec)
		pos += n
	}
	return b, nil
}

func writeHeader(buf []byte, count int, prev, next int32) {
	copy(buf[0:4], padUnsigned(count))
	copy(buf[4:8], padSigned(prev))
	copy(buf[8:12], padSigned(next))
}

func readHeader(buf []byte) (count int, prev, next int32, err error) {
	count, err = strconv.Atoi(strings.TrimSpace(string(buf[0:4])))
	if err != nil {
		return 0, 0, 0, err
	}
	p, err := strconv.Atoi(strings.TrimSpace(string(buf[4:8])))
	if err != nil {
		return 0, 0, 0, err
	}
	nx, err := strconv.Atoi(strings.TrimSpace(string(buf[8:12])))
	if err != nil {
		return 0, 0, 0, err
	}
	return count, int32(p), int32(nx), nil
}

func padUnsigned(n int) string {
	s := strconv.Itoa(n)
	if len(s) >= fieldWidth {
		return s[len(s)-fieldWidth:]
	}
	return strings.Repeat("0", fieldWidth-len(s)) + s
}

func padSigned(n int32) string {
	s := strconv.Itoa(int(n))
	if len(s) >= fieldWidth {
		return s[len(s)-fieldWidth:]
	}
	return strings.Repeat(" ", fieldWidth-len(s)) + s
}
