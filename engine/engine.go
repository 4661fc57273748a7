// Package engine implements the BSS manager (C5): the component that
// orchestrates the header, block, and sparse-index codecs into the full
// set of store operations -- initialise, bulk load, search, insert,
// remove, and the physical/logical/index dumps.
package engine

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strings"

	"github.com/caseyhaas/zipbss"
	"github.com/caseyhaas/zipbss/block"
	"github.com/caseyhaas/zipbss/blockfile"
	"github.com/caseyhaas/zipbss/header"
	"github.com/caseyhaas/zipbss/record"
	"github.com/caseyhaas/zipbss/sparseindex"
)

// Options configures a new or reopened store.
type Options struct {
	BlockSize       int
	RecordSizeBytes int
	Binary          bool
	// Force allows Open to proceed even when the header's stale flag is
	// set, i.e. the previous process may have crashed mid-operation.
	Force bool
}

// DefaultOptions matches the defaults baked into the original header
// layout: 512-byte blocks, a 4-byte ASCII record-length field.
func DefaultOptions() Options {
	return Options{BlockSize: 512, RecordSizeBytes: 4}
}

// Engine is an open handle on one blocked sequence set store.
type Engine struct {
	dataPath  string
	indexPath string
	header    *header.Header
	bf        *blockfile.BlockFile
	idx       *sparseindex.Index
}

// Initialise creates a brand new, empty store at dataPath/indexPath.
func Initialise(dataPath, indexPath string, opts Options) (*Engine, error) {
	f, err := os.OpenFile(dataPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, zipbss.WrapIO("engine.Initialise", err)
	}
	h := header.New(indexPath, opts.BlockSize, opts.RecordSizeBytes, opts.Binary)
	writeErr := h.Write(f)
	f.Close()
	if writeErr != nil {
		return nil, writeErr
	}

	idxFile, err := os.Create(indexPath)
	if err != nil {
		return nil, zipbss.WrapIO("engine.Initialise", err)
	}
	idxFile.Close()

	log.Printf("zipbss: initialised %s (block size %d)", dataPath, opts.BlockSize)
	return Open(dataPath, indexPath, opts)
}

// Open reopens an existing store.
func Open(dataPath, indexPath string, opts Options) (*Engine, error) {
	hf, err := os.OpenFile(dataPath, os.O_RDWR, 0644)
	if err != nil {
		return nil, zipbss.WrapIO("engine.Open", err)
	}
	h, err := header.Read(hf)
	hf.Close()
	if err != nil {
		return nil, err
	}
	if h.StaleFlag && !opts.Force {
		return nil, zipbss.NewCorruption("data file %q is marked stale (possible crash mid-operation); reopen with Force to override", dataPath)
	}

	bf, err := blockfile.Open(dataPath, int64(h.HeaderSize), h.BlockSize)
	if err != nil {
		return nil, err
	}

	idx, err := sparseindex.Load(indexPath, uint(h.RecordCount+1))
	if err != nil {
		bf.Close()
		return nil, err
	}

	e := &Engine{dataPath: dataPath, indexPath: indexPath, header: h, bf: bf, idx: idx}
	if err := e.rebuildFilter(); err != nil {
		bf.Close()
		return nil, err
	}
	return e, nil
}

// Close releases the underlying file handle.
func (e *Engine) Close() error {
	return e.bf.Close()
}

// RecordCount reports the store's current record count.
func (e *Engine) RecordCount() int { return e.header.RecordCount }

// BlockCount reports the store's current block count.
func (e *Engine) BlockCount() int { return e.header.BlockCount }

func (e *Engine) readBlock(rbn int32) (*block.Block, error) {
	buf := make([]byte, e.header.BlockSize)
	if err := e.bf.ReadBlock(buf, rbn); err != nil {
		return nil, err
	}
	return block.Unmarshal(buf, e.header.RecordSizeBytes, e.header.IsBinary())
}

func (e *Engine) writeBlock(rbn int32, b *block.Block) error {
	buf, err := b.Marshal()
	if err != nil {
		return err
	}
	return e.bf.WriteBlock(buf, rbn)
}

func (e *Engine) persistHeader() error {
	return e.header.Write(e.bf.File)
}

// walk visits each block reachable from head via NextRBN, aborting with a
// Corruption error if a cycle is detected.
func (e *Engine) walk(head int32, visit func(rbn int32, b *block.Block) error) error {
	visited := make(map[int32]bool)
	rbn := head
	for rbn >= 0 {
		if visited[rbn] {
			return zipbss.NewCorruption("cycle detected in block chain at RBN %d", rbn)
		}
		visited[rbn] = true
		b, err := e.readBlock(rbn)
		if err != nil {
			return err
		}
		if err := visit(rbn, b); err != nil {
			return err
		}
		rbn = b.NextRBN
	}
	return nil
}

func (e *Engine) rebuildFilter() error {
	e.idx.ResetFilter(uint(e.header.RecordCount + 1))
	return e.walk(e.header.ActiveListHead, func(_ int32, b *block.Block) error {
		for _, r := range b.Records {
			e.idx.AddKey(r.Zip)
		}
		return nil
	})
}

// ReadCSV parses a CSV stream whose first line is a header row to be
// skipped (matching the source tool's createFromCSV), and the rest are
// six-field zip code records.
func ReadCSV(r io.Reader) ([]zipbss.Record, error) {
	scanner := bufio.NewScanner(r)
	if !scanner.Scan() {
		return nil, nil
	}
	var records []zipbss.Record
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		rec, err := record.DecodeCSV(line)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, zipbss.WrapIO("engine.ReadCSV", err)
	}
	return records, nil
}

// BulkLoad packs records (already parsed, in any order) into a store that
// holds no blocks yet, as left by Initialise. It does not clear blocks or
// index entries that are already present.
func (e *Engine) BulkLoad(records []zipbss.Record) error {
	sorted := append([]zipbss.Record(nil), records...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Zip < sorted[j].Zip })

	e.header.MarkStale()
	if err := e.persistHeader(); err != nil {
		return err
	}
	e.idx.ResetFilter(uint(len(sorted) + 1))

	if len(sorted) == 0 {
		e.header.RecordCount = 0
		e.header.BlockCount = 0
		e.header.ActiveListHead = zipbss.InvalidRBN
		e.header.AvailListHead = zipbss.InvalidRBN
		e.header.ClearStale()
		if err := e.persistHeader(); err != nil {
			return err
		}
		return e.idx.Save()
	}

	binary := e.header.IsBinary()
	blocks := []*block.Block{block.New(e.header.BlockSize, e.header.RecordSizeBytes, binary)}
	for _, r := range sorted {
		last := blocks[len(blocks)-1]
		ok, err := last.AddRecord(r)
		if err != nil {
			return err
		}
		if ok {
			continue
		}
		next := block.New(e.header.BlockSize, e.header.RecordSizeBytes, binary)
		ok, err = next.AddRecord(r)
		if err != nil {
			return err
		}
		if !ok {
			return &zipbss.CapacityError{
				Key:           r.Zip,
				EncodedLength: record.EncodedLength(r, e.header.RecordSizeBytes),
				BlockSize:     e.header.BlockSize,
			}
		}
		blocks = append(blocks, next)
	}

	for i, b := range blocks {
		rbn := int32(i)
		if i == 0 {
			b.PrevRBN = zipbss.InvalidRBN
		} else {
			b.PrevRBN = int32(i - 1)
		}
		if i == len(blocks)-1 {
			b.NextRBN = zipbss.InvalidRBN
		} else {
			b.NextRBN = int32(i + 1)
		}
		if _, err := e.bf.AllocateBlock(); err != nil {
			return err
		}
		if err := e.writeBlock(rbn, b); err != nil {
			return err
		}
		e.idx.Update("", b.HighestKey(), rbn)
		for _, r := range b.Records {
			e.idx.AddKey(r.Zip)
		}
	}

	e.header.RecordCount = len(sorted)
	e.header.BlockCount = len(blocks)
	e.header.ActiveListHead = 0
	e.header.AvailListHead = zipbss.InvalidRBN
	e.header.ClearStale()
	if err := e.persistHeader(); err != nil {
		return err
	}
	if err := e.idx.Save(); err != nil {
		return err
	}
	log.Printf("zipbss: bulk-loaded %d records into %d blocks", len(sorted), len(blocks))
	return nil
}

// Search looks up key, consulting the bloom filter before touching the
// index or disk.
func (e *Engine) Search(key string) (zipbss.Record, bool, error) {
	if !e.idx.MightContain(key) {
		return zipbss.Record{}, false, nil
	}
	rbn, ok := e.idx.FindBlockFor(key)
	if !ok {
		return zipbss.Record{}, false, nil
	}
	b, err := e.readBlock(rbn)
	if err != nil {
		return zipbss.Record{}, false, err
	}
	rec, found := b.FindRecord(key)
	return rec, found, nil
}

// Insert adds a new record, splitting its target block if necessary.
func (e *Engine) Insert(r zipbss.Record) error {
	if err := record.Validate(r); err != nil {
		return err
	}
	_, found, err := e.Search(r.Zip)
	if err != nil {
		return err
	}
	if found {
		return &zipbss.AlreadyExists{Key: r.Zip}
	}

	e.header.MarkStale()
	if err := e.persistHeader(); err != nil {
		return err
	}

	if e.header.BlockCount == 0 {
		return e.insertIntoEmptyStore(r)
	}

	rbn, _ := e.idx.FindBlockFor(r.Zip)
	b, err := e.readBlock(rbn)
	if err != nil {
		return err
	}
	oldHighest := b.HighestKey()

	ok, err := b.AddRecord(r)
	if err != nil {
		return err
	}
	if ok {
		if err := e.writeBlock(rbn, b); err != nil {
			return err
		}
		e.idx.Update(oldHighest, b.HighestKey(), rbn)
		e.idx.AddKey(r.Zip)
		e.header.RecordCount++
		e.header.ClearStale()
		if err := e.persistHeader(); err != nil {
			return err
		}
		if err := e.idx.Save(); err != nil {
			return err
		}
		log.Printf("zipbss: inserted %q into block %d", r.Zip, rbn)
		return nil
	}

	return e.insertWithSplit(rbn, b, oldHighest, r)
}

func (e *Engine) insertIntoEmptyStore(r zipbss.Record) error {
	b := block.New(e.header.BlockSize, e.header.RecordSizeBytes, e.header.IsBinary())
	ok, err := b.AddRecord(r)
	if err != nil {
		return err
	}
	if !ok {
		return &zipbss.CapacityError{
			Key:           r.Zip,
			EncodedLength: record.EncodedLength(r, e.header.RecordSizeBytes),
			BlockSize:     e.header.BlockSize,
		}
	}
	if _, err := e.bf.AllocateBlock(); err != nil {
		return err
	}
	if err := e.writeBlock(0, b); err != nil {
		return err
	}
	e.idx.Update("", b.HighestKey(), 0)
	e.idx.AddKey(r.Zip)

	e.header.RecordCount++
	e.header.BlockCount = 1
	e.header.ActiveListHead = 0
	e.header.ClearStale()
	if err := e.persistHeader(); err != nil {
		return err
	}
	if err := e.idx.Save(); err != nil {
		return err
	}
	log.Printf("zipbss: inserted %q as the first record into a new block 0", r.Zip)
	return nil
}

func (e *Engine) insertWithSplit(rbn int32, b *block.Block, oldHighest string, r zipbss.Record) error {
	if b.RecordCount() < 2 {
		return &zipbss.CapacityError{
			Key:           r.Zip,
			EncodedLength: record.EncodedLength(r, e.header.RecordSizeBytes),
			BlockSize:     e.header.BlockSize,
		}
	}
	newBlock, err := b.Split()
	if err != nil {
		return err
	}

	var newRBN int32
	if e.header.AvailListHead >= 0 {
		availRBN := e.header.AvailListHead
		availBlock, err := e.readBlock(availRBN)
		if err != nil {
			return err
		}
		if !availBlock.IsAvail() {
			return zipbss.NewCorruption("availability-list entry at RBN %d has %d records", availRBN, availBlock.RecordCount())
		}
		e.header.AvailListHead = availBlock.NextRBN
		newRBN = availRBN
	} else {
		allocated, err := e.bf.AllocateBlock()
		if err != nil {
			return err
		}
		newRBN = allocated
		e.header.BlockCount++
	}

	nextRBN := b.NextRBN
	b.NextRBN = newRBN
	newBlock.PrevRBN = rbn
	newBlock.NextRBN = nextRBN

	var ok bool
	if r.Zip <= b.HighestKey() {
		ok, err = b.AddRecord(r)
	} else {
		ok, err = newBlock.AddRecord(r)
	}
	if err != nil {
		return err
	}
	if !ok {
		return zipbss.NewCorruption("record %q fits in neither half of a split block", r.Zip)
	}

	if nextRBN >= 0 {
		nextBlock, err := e.readBlock(nextRBN)
		if err != nil {
			return err
		}
		nextBlock.PrevRBN = newRBN
		if err := e.writeBlock(nextRBN, nextBlock); err != nil {
			return err
		}
	}

	if err := e.writeBlock(rbn, b); err != nil {
		return err
	}
	if err := e.writeBlock(newRBN, newBlock); err != nil {
		return err
	}

	e.idx.Update(oldHighest, b.HighestKey(), rbn)
	e.idx.Update("", newBlock.HighestKey(), newRBN)
	e.idx.AddKey(r.Zip)

	e.header.RecordCount++
	e.header.ClearStale()
	if err := e.persistHeader(); err != nil {
		return err
	}
	if err := e.idx.Save(); err != nil {
		return err
	}
	log.Printf("zipbss: block %d split into %d and %d on insert of %q", rbn, rbn, newRBN, r.Zip)
	return nil
}

// Remove deletes the record with the given key, returning it to the
// availability list if its block empties.
func (e *Engine) Remove(key string) error {
	rbn, ok := e.idx.FindBlockFor(key)
	if !ok {
		return &zipbss.NotFound{Key: key}
	}
	b, err := e.readBlock(rbn)
	if err != nil {
		return err
	}
	oldHighest := b.HighestKey()
	if !b.RemoveRecord(key) {
		return &zipbss.NotFound{Key: key}
	}

	e.header.MarkStale()
	if err := e.persistHeader(); err != nil {
		return err
	}

	if b.RecordCount() == 0 {
		prevRBN := b.PrevRBN
		nextRBN := b.NextRBN

		if prevRBN >= 0 {
			prevBlock, err := e.readBlock(prevRBN)
			if err != nil {
				return err
			}
			prevBlock.NextRBN = nextRBN
			if err := e.writeBlock(prevRBN, prevBlock); err != nil {
				return err
			}
		} else {
			e.header.ActiveListHead = nextRBN
		}

		if nextRBN >= 0 {
			nextBlock, err := e.readBlock(nextRBN)
			if err != nil {
				return err
			}
			nextBlock.PrevRBN = prevRBN
			if err := e.writeBlock(nextRBN, nextBlock); err != nil {
				return err
			}
		}

		b.ConvertToAvail(e.header.AvailListHead)
		if err := e.writeBlock(rbn, b); err != nil {
			return err
		}
		e.header.AvailListHead = rbn
		e.idx.Update(oldHighest, "", rbn)
	} else {
		if err := e.writeBlock(rbn, b); err != nil {
			return err
		}
		e.idx.Update(oldHighest, b.HighestKey(), rbn)
	}

	e.header.RecordCount--
	e.header.ClearStale()
	if err := e.persistHeader(); err != nil {
		return err
	}
	if err := e.idx.Save(); err != nil {
		return err
	}
	log.Printf("zipbss: removed %q from block %d", key, rbn)
	return nil
}

// DumpPhysical writes one line per RBN in [0, BlockCount), in physical
// storage order, regardless of list membership.
func (e *Engine) DumpPhysical(w io.Writer) error {
	fmt.Fprintf(w, "List Head: %d\n", e.header.ActiveListHead)
	fmt.Fprintf(w, "Avail Head: %d\n", e.header.AvailListHead)
	for rbn := int32(0); rbn < int32(e.header.BlockCount); rbn++ {
		b, err := e.readBlock(rbn)
		if err != nil {
			return err
		}
		if b.IsAvail() {
			fmt.Fprintf(w, "RBN %3d  *available*     -> %d\n", rbn, b.NextRBN)
			continue
		}
		fmt.Fprintf(w, "RBN %3d  %s -> %d  (%.1f%% used)\n", rbn, keysOf(b), b.NextRBN, b.UsagePercent())
	}
	return nil
}

// DumpLogical walks the active list from its head, then the availability
// list from its head, emitting one line per visited block.
func (e *Engine) DumpLogical(w io.Writer) error {
	fmt.Fprintf(w, "List Head: %d\n", e.header.ActiveListHead)
	fmt.Fprintf(w, "Avail Head: %d\n", e.header.AvailListHead)

	if err := e.walk(e.header.ActiveListHead, func(rbn int32, b *block.Block) error {
		fmt.Fprintf(w, "RBN %3d  %s -> %d\n", rbn, keysOf(b), b.NextRBN)
		return nil
	}); err != nil {
		return err
	}
	return e.walk(e.header.AvailListHead, func(rbn int32, b *block.Block) error {
		fmt.Fprintf(w, "RBN %3d  *available*     -> %d\n", rbn, b.NextRBN)
		return nil
	})
}

// DumpIndex writes the in-memory sparse index, in ascending key order.
func (e *Engine) DumpIndex(w io.Writer) error {
	fmt.Fprintln(w, "Index:")
	e.idx.Each(func(key string, rbn int32) {
		fmt.Fprintf(w, "%s -> %d\n", key, rbn)
	})
	return nil
}

func keysOf(b *block.Block) string {
	keys := make([]string, len(b.Records))
	for i, r := range b.Records {
		keys[i] = r.Zip
	}
	return strings.Join(keys, " ")
}
