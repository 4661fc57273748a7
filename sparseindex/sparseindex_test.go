package sparseindex

import (
	"path/filepath"
	"testing"

	. "gopkg.in/check.v1"
)

func Test(t *testing.T) { TestingT(t) }

type IndexSuite struct{}

var _ = Suite(&IndexSuite{})

func (s *IndexSuite) TestEmptyIndexFindIsSentinel(c *C) {
	idx, err := Load(filepath.Join(c.MkDir(), "missing.idx"), 10)
	c.Assert(err, IsNil)
	_, ok := idx.FindBlockFor("10001")
	c.Assert(ok, Equals, false)
}

func (s *IndexSuite) TestFindBlockForNearestHighest(c *C) {
	idx, _ := Load(filepath.Join(c.MkDir(), "missing.idx"), 10)
	idx.Update("", "30301", 0)
	idx.Update("", "60601", 1)

	rbn, ok := idx.FindBlockFor("20001")
	c.Assert(ok, Equals, true)
	c.Assert(rbn, Equals, int32(0))

	rbn, ok = idx.FindBlockFor("30301")
	c.Assert(ok, Equals, true)
	c.Assert(rbn, Equals, int32(0))

	rbn, ok = idx.FindBlockFor("99999")
	c.Assert(ok, Equals, true)
	c.Assert(rbn, Equals, int32(1))
}

func (s *IndexSuite) TestUpdateNoOpWhenUnchanged(c *C) {
	idx, _ := Load(filepath.Join(c.MkDir(), "missing.idx"), 10)
	idx.Update("", "30301", 0)
	c.Assert(idx.Len(), Equals, 1)
	idx.Update("30301", "30301", 0)
	c.Assert(idx.Len(), Equals, 1)
	rbn, ok := idx.FindBlockFor("30301")
	c.Assert(ok, Equals, true)
	c.Assert(rbn, Equals, int32(0))
}

func (s *IndexSuite) TestSaveLoadRoundTrip(c *C) {
	path := filepath.Join(c.MkDir(), "data.idx")
	idx, _ := Load(path, 10)
	idx.Update("", "30301", 0)
	idx.Update("", "60601", 1)
	c.Assert(idx.Save(), IsNil)

	reloaded, err := Load(path, 10)
	c.Assert(err, IsNil)
	c.Assert(reloaded.Len(), Equals, 2)
	rbn, ok := reloaded.FindBlockFor("40000")
	c.Assert(ok, Equals, true)
	c.Assert(rbn, Equals, int32(1))
}

func (s *IndexSuite) TestBloomFilterMembership(c *C) {
	idx, _ := Load(filepath.Join(c.MkDir(), "missing.idx"), 10)
	idx.AddKey("10001")
	c.Assert(idx.MightContain("10001"), Equals, true)
	c.Assert(idx.MightContain("99999"), Equals, false)
}
