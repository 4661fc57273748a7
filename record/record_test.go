package record

import (
	"testing"

	. "gopkg.in/check.v1"

	"github.com/caseyhaas/zipbss"
)

func Test(t *testing.T) { TestingT(t) }

type RecordSuite struct{}

var _ = Suite(&RecordSuite{})

func sample() zipbss.Record {
	return zipbss.Record{
		Zip:       "10001",
		City:      "New York",
		State:     "NY",
		County:    "New York",
		Latitude:  40.7128,
		Longitude: -74.0060,
	}
}

func (s *RecordSuite) TestCSVRoundTrip(c *C) {
	r := sample()
	decoded, err := DecodeCSV(EncodeCSV(r))
	c.Assert(err, IsNil)
	c.Assert(decoded, Equals, r)
}

func (s *RecordSuite) TestEncodeDecodeASCII(c *C) {
	r := sample()
	buf, err := Encode(r, 4, false)
	c.Assert(err, IsNil)
	decoded, n, err := Decode(buf, 4, false)
	c.Assert(err, IsNil)
	c.Assert(n, Equals, len(buf))
	c.Assert(decoded, Equals, r)
}

func (s *RecordSuite) TestEncodeDecodeBinary(c *C) {
	r := sample()
	buf, err := Encode(r, 2, true)
	c.Assert(err, IsNil)
	decoded, n, err := Decode(buf, 2, true)
	c.Assert(err, IsNil)
	c.Assert(n, Equals, len(buf))
	c.Assert(decoded, Equals, r)
}

func (s *RecordSuite) TestValidateRejectsBadZip(c *C) {
	r := sample()
	r.Zip = "1A001"
	_, err := Encode(r, 4, false)
	c.Assert(err, NotNil)
}

func (s *RecordSuite) TestValidateRejectsSignedZip(c *C) {
	r := sample()
	r.Zip = "-1234"
	_, err := Encode(r, 4, false)
	c.Assert(err, NotNil)
}

func (s *RecordSuite) TestValidateRejectsDecimalZip(c *C) {
	r := sample()
	r.Zip = "1.234"
	_, err := Encode(r, 4, false)
	c.Assert(err, NotNil)
}

func (s *RecordSuite) TestValidateRejectsBadState(c *C) {
	r := sample()
	r.State = "New York"
	_, err := Encode(r, 4, false)
	c.Assert(err, NotNil)
}

func (s *RecordSuite) TestDecodeShortBuffer(c *C) {
	_, _, err := Decode([]byte("0"), 4, false)
	c.Assert(err, NotNil)
}

func (s *RecordSuite) TestEncodedLengthMatchesEncode(c *C) {
	r := sample()
	buf, err := Encode(r, 4, false)
	c.Assert(err, IsNil)
	c.Assert(EncodedLength(r, 4), Equals, len(buf))
}
