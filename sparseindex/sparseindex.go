// Package sparseindex implements the sparse index (C4): an in-memory
// ordered mapping from a block's highest key to its RBN, backed by a
// balanced tree for near-O(log n) lookups, mirrored to a sorted text
// sidecar file, and paired with a bloom filter that lets Search
// short-circuit a confirmed miss without touching the index or disk.
package sparseindex

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/google/btree"
	"github.com/willf/bloom"

	"github.com/caseyhaas/zipbss"
)

const treeDegree = 32
const defaultFalsePositiveRate = 0.01

// entry is the btree.Item backing the ordered highest-key -> rbn mapping.
type entry struct {
	Key string
	RBN int32
}

func (e entry) Less(than btree.Item) bool {
	return e.Key < than.(entry).Key
}

// Index is the in-memory sparse index plus its membership pre-filter.
type Index struct {
	path   string
	tree   *btree.BTree
	filter *bloom.BloomFilter
}

// Load reads the sidecar file at path into a fresh Index. A missing file is
// treated as an empty index, matching readIndex's behaviour on a file that
// doesn't exist yet. expectedRecords sizes the initial bloom filter; call
// ResetFilter later once the true record count is known.
func Load(path string, expectedRecords uint) (*Index, error) {
	idx := &Index{
		path:   path,
		tree:   btree.New(treeDegree),
		filter: bloom.NewWithEstimates(maxUint(expectedRecords, 1), defaultFalsePositiveRate),
	}
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return idx, nil
	}
	if err != nil {
		return nil, zipbss.WrapIO("sparseindex.Load", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, ",", 2)
		if len(parts) != 2 {
			return nil, zipbss.NewFormatError("sparseindex.Load", fmt.Errorf("malformed index line %q", line))
		}
		rbn, err := strconv.Atoi(parts[1])
		if err != nil {
			return nil, zipbss.NewFormatError("sparseindex.Load", err)
		}
		idx.tree.ReplaceOrInsert(entry{Key: parts[0], RBN: int32(rbn)})
	}
	if err := scanner.Err(); err != nil {
		return nil, zipbss.WrapIO("sparseindex.Load", err)
	}
	return idx, nil
}

func maxUint(a, b uint) uint {
	if a > b {
		return a
	}
	return b
}

// Save rewrites the sidecar file from the in-memory tree, in ascending key
// order (the tree's natural iteration order).
func (idx *Index) Save() error {
	f, err := os.Create(idx.path)
	if err != nil {
		return zipbss.WrapIO("sparseindex.Save", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	var writeErr error
	idx.tree.Ascend(func(i btree.Item) bool {
		e := i.(entry)
		_, writeErr = fmt.Fprintf(w, "%s,%d\n", e.Key, e.RBN)
		return writeErr == nil
	})
	if writeErr != nil {
		return zipbss.WrapIO("sparseindex.Save", writeErr)
	}
	if err := w.Flush(); err != nil {
		return zipbss.WrapIO("sparseindex.Save", err)
	}
	return nil
}

// Len reports the number of indexed blocks.
func (idx *Index) Len() int { return idx.tree.Len() }

// FindBlockFor returns the RBN of the block that should hold key: the
// block whose highest key is the smallest one >= key. If key exceeds every
// indexed highest key, the last block is returned instead. ok is false only
// when the index is empty (no block yet exists).
func (idx *Index) FindBlockFor(key string) (rbn int32, ok bool) {
	if idx.tree.Len() == 0 {
		return 0, false
	}
	found := false
	var result entry
	idx.tree.AscendGreaterOrEqual(entry{Key: key}, func(i btree.Item) bool {
		result = i.(entry)
		found = true
		return false
	})
	if found {
		return result.RBN, true
	}
	var last entry
	idx.tree.Descend(func(i btree.Item) bool {
		last = i.(entry)
		return false
	})
	return last.RBN, true
}

// Update replaces the index entry for a block whose highest key changed
// from oldHighest to newHighest. A no-op if the two are equal -- the
// original implementation's updateIndex always re-inserted even when
// nothing changed, silently leaving the stale oldHighest entry in place
// whenever the caller passed equal values; this corrects that by not
// touching the tree at all in that case. Pass an empty newHighest to
// remove the block's entry entirely (e.g. when it becomes an availability
// block); pass an empty oldHighest when inserting a brand new block.
func (idx *Index) Update(oldHighest, newHighest string, rbn int32) {
	if oldHighest == newHighest {
		return
	}
	if oldHighest != "" {
		idx.tree.Delete(entry{Key: oldHighest})
	}
	if newHighest != "" {
		idx.tree.ReplaceOrInsert(entry{Key: newHighest, RBN: rbn})
	}
}

// Each walks every (highest-key, rbn) pair in ascending key order.
func (idx *Index) Each(fn func(key string, rbn int32)) {
	idx.tree.Ascend(func(i btree.Item) bool {
		e := i.(entry)
		fn(e.Key, e.RBN)
		return true
	})
}

// ResetFilter discards the membership filter and allocates a fresh one
// sized for expectedRecords entries.
func (idx *Index) ResetFilter(expectedRecords uint) {
	idx.filter = bloom.NewWithEstimates(maxUint(expectedRecords, 1), defaultFalsePositiveRate)
}

// AddKey records key as present in the membership filter.
func (idx *Index) AddKey(key string) {
	idx.filter.AddString(key)
}

// MightContain reports whether key could be present. False means key is
// definitely absent; true means key may or may not be present (the normal
// index + block lookup is still required to confirm). Bloom filters don't
// support deletion, so a removed key keeps testing positive here until the
// filter is next rebuilt -- an accepted drift in the false-positive rate,
// not a correctness issue, since a false positive only costs an extra
// lookup that Search would have done anyway.
func (idx *Index) MightContain(key string) bool {
	return idx.filter.TestString(key)
}
