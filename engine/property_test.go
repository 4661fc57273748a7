package engine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/caseyhaas/zipbss"
	"github.com/caseyhaas/zipbss/block"
)

func newPropertyTestEngine() (*Engine, func()) {
	dir, err := os.MkdirTemp("", "zipbss-prop")
	if err != nil {
		panic(err)
	}
	e, err := Initialise(filepath.Join(dir, "data.bss"), filepath.Join(dir, "data.idx"), Options{BlockSize: 192, RecordSizeBytes: 2})
	if err != nil {
		panic(err)
	}
	return e, func() {
		e.Close()
		os.RemoveAll(dir)
	}
}

func zipOf(n uint16) string {
	digits := [5]byte{'0', '0', '0', '0', '0'}
	v := int(n) % 100000
	for i := 4; i >= 0; i-- {
		digits[i] = byte('0' + v%10)
		v /= 10
	}
	return string(digits[:])
}

func uniqueZips(zips []uint16) []string {
	seen := map[string]bool{}
	var out []string
	for _, z := range zips {
		key := zipOf(z)
		if !seen[key] {
			seen[key] = true
			out = append(out, key)
		}
	}
	return out
}

func activeListKeys(e *Engine) ([]string, error) {
	var keys []string
	err := e.walk(e.header.ActiveListHead, func(_ int32, b *block.Block) error {
		for _, r := range b.Records {
			keys = append(keys, r.Zip)
		}
		return nil
	})
	return keys, err
}

// TestStoreInvariants checks SPEC_FULL.md's §8 testable properties against
// randomized sequences of inserts: every inserted key is subsequently
// found by its own key, a duplicate key is always rejected, the active
// list visits keys in strictly ascending order, and the record count
// always matches the number of keys actually inserted.
func TestStoreInvariants(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping property-based test in short mode")
	}

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20

	properties := gopter.NewProperties(parameters)

	properties.Property("every inserted key is found by its own key", prop.ForAll(
		func(zips []uint16) bool {
			e, cleanup := newPropertyTestEngine()
			defer cleanup()

			keys := uniqueZips(zips)
			for _, key := range keys {
				if err := e.Insert(zipbss.Record{Zip: key, City: "C", State: "ST", County: "Co"}); err != nil {
					return false
				}
			}
			for _, key := range keys {
				rec, ok, err := e.Search(key)
				if err != nil || !ok || rec.Zip != key {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(12, gen.UInt16Range(0, 65535)),
	))

	properties.Property("duplicate insert is always rejected", prop.ForAll(
		func(z uint16) bool {
			e, cleanup := newPropertyTestEngine()
			defer cleanup()

			key := zipOf(z)
			rec := zipbss.Record{Zip: key, City: "C", State: "ST", County: "Co"}
			if err := e.Insert(rec); err != nil {
				return false
			}
			err := e.Insert(rec)
			_, isDup := err.(*zipbss.AlreadyExists)
			return isDup
		},
		gen.UInt16Range(0, 65535),
	))

	properties.Property("active list visits keys in ascending order", prop.ForAll(
		func(zips []uint16) bool {
			e, cleanup := newPropertyTestEngine()
			defer cleanup()

			keys := uniqueZips(zips)
			for _, key := range keys {
				if err := e.Insert(zipbss.Record{Zip: key, City: "C", State: "ST", County: "Co"}); err != nil {
					return false
				}
			}

			observed, err := activeListKeys(e)
			if err != nil {
				return false
			}
			for i := 1; i < len(observed); i++ {
				if observed[i-1] >= observed[i] {
					return false
				}
			}
			return len(observed) == len(keys)
		},
		gen.SliceOfN(10, gen.UInt16Range(0, 65535)),
	))

	properties.Property("record count matches number of keys inserted", prop.ForAll(
		func(zips []uint16) bool {
			e, cleanup := newPropertyTestEngine()
			defer cleanup()

			keys := uniqueZips(zips)
			for _, key := range keys {
				if err := e.Insert(zipbss.Record{Zip: key, City: "C", State: "ST", County: "Co"}); err != nil {
					return false
				}
			}
			return e.RecordCount() == len(keys)
		},
		gen.SliceOfN(8, gen.UInt16Range(0, 65535)),
	))

	properties.Property("insert then remove returns the store to its prior count", prop.ForAll(
		func(zips []uint16, z uint16) bool {
			e, cleanup := newPropertyTestEngine()
			defer cleanup()

			keys := uniqueZips(zips)
			for _, key := range keys {
				if err := e.Insert(zipbss.Record{Zip: key, City: "C", State: "ST", County: "Co"}); err != nil {
					return false
				}
			}
			newKey := zipOf(z)
			for _, existing := range keys {
				if existing == newKey {
					return true
				}
			}
			before := e.RecordCount()
			if err := e.Insert(zipbss.Record{Zip: newKey, City: "C", State: "ST", County: "Co"}); err != nil {
				return false
			}
			if err := e.Remove(newKey); err != nil {
				return false
			}
			_, ok, err := e.Search(newKey)
			if err != nil || ok {
				return false
			}
			return e.RecordCount() == before
		},
		gen.SliceOfN(8, gen.UInt16Range(0, 65535)),
		gen.UInt16Range(0, 65535),
	))

	properties.TestingRun(t)
}
