package block

import (
	"testing"

	. "github.com/dropbox/godropbox/gocheck2"
	. "gopkg.in/check.v1"

	"github.com/caseyhaas/zipbss"
)

func Test(t *testing.T) { TestingT(t) }

type BlockSuite struct{}

var _ = Suite(&BlockSuite{})

func rec(zip string) zipbss.Record {
	return zipbss.Record{Zip: zip, City: "X", State: "YY", County: "", Latitude: 0, Longitude: 0}
}

func (s *BlockSuite) TestAddRecordSortedOrder(c *C) {
	b := New(256, 4, false)
	for _, z := range []string{"30301", "10001", "20001"} {
		ok, err := b.AddRecord(rec(z))
		c.Assert(err, IsNil)
		c.Assert(ok, IsTrue)
	}
	c.Assert(b.Records[0].Zip, Equals, "10001")
	c.Assert(b.Records[1].Zip, Equals, "20001")
	c.Assert(b.Records[2].Zip, Equals, "30301")
	c.Assert(b.HighestKey(), Equals, "30301")
	c.Assert(b.LowestKey(), Equals, "10001")
}

func (s *BlockSuite) TestAddRecordRejectsWhenFull(c *C) {
	b := New(HeaderSize+20, 4, false) // room for exactly one 19-byte record
	ok, err := b.AddRecord(rec("10001"))
	c.Assert(err, IsNil)
	c.Assert(ok, IsTrue)
	ok, err = b.AddRecord(rec("20001"))
	c.Assert(err, IsNil)
	c.Assert(ok, IsFalse)
}

func (s *BlockSuite) TestMarshalUnmarshalRoundTrip(c *C) {
	b := New(128, 4, false)
	for _, z := range []string{"10001", "20001"} {
		ok, err := b.AddRecord(rec(z))
		c.Assert(err, IsNil)
		c.Assert(ok, IsTrue)
	}
	b.PrevRBN = -1
	b.NextRBN = 3
	buf, err := b.Marshal()
	c.Assert(err, IsNil)
	c.Assert(len(buf), Equals, 128)

	back, err := Unmarshal(buf, 4, false)
	c.Assert(err, IsNil)
	c.Assert(back.PrevRBN, Equals, int32(-1))
	c.Assert(back.NextRBN, Equals, int32(3))
	c.Assert(len(back.Records), Equals, 2)
	c.Assert(back.Records[0].Zip, Equals, "10001")
	c.Assert(back.Records[1].Zip, Equals, "20001")
}

func (s *BlockSuite) TestAvailBlockRoundTrip(c *C) {
	b := New(128, 4, false)
	b.ConvertToAvail(5)
	buf, err := b.Marshal()
	c.Assert(err, IsNil)

	back, err := Unmarshal(buf, 4, false)
	c.Assert(err, IsNil)
	c.Assert(back.IsAvail(), IsTrue)
	c.Assert(back.NextRBN, Equals, int32(5))
}

func (s *BlockSuite) TestSplitMovesUpperHalf(c *C) {
	b := New(512, 4, false)
	for _, z := range []string{"10001", "20001", "30301", "40401"} {
		ok, _ := b.AddRecord(rec(z))
		c.Assert(ok, IsTrue)
	}
	newBlock, err := b.Split()
	c.Assert(err, IsNil)
	c.Assert(len(b.Records), Equals, 2)
	c.Assert(len(newBlock.Records), Equals, 2)
	c.Assert(b.Records[1].Zip, Equals, "20001")
	c.Assert(newBlock.Records[0].Zip, Equals, "30301")
}

func (s *BlockSuite) TestSplitOddCountGivesExtraToNewBlock(c *C) {
	b := New(512, 4, false)
	for _, z := range []string{"10001", "20001", "30301"} {
		ok, _ := b.AddRecord(rec(z))
		c.Assert(ok, IsTrue)
	}
	newBlock, err := b.Split()
	c.Assert(err, IsNil)
	c.Assert(len(b.Records), Equals, 1)
	c.Assert(len(newBlock.Records), Equals, 2)
}

func (s *BlockSuite) TestRemoveRecord(c *C) {
	b := New(256, 4, false)
	b.AddRecord(rec("10001"))
	b.AddRecord(rec("20001"))
	c.Assert(b.RemoveRecord("10001"), IsTrue)
	c.Assert(b.RemoveRecord("10001"), IsFalse)
	_, found := b.FindRecord("10001")
	c.Assert(found, IsFalse)
	_, found = b.FindRecord("20001")
	c.Assert(found, IsTrue)
}
