// Package record implements the length-indicated record codec: encoding a
// zipbss.Record as a comma-separated payload prefixed by its own byte
// length, in either zero-padded ASCII or big-endian binary form.
package record

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dropbox/godropbox/errors"
	"github.com/go-playground/validator/v10"

	"github.com/caseyhaas/zipbss"
)

var validate = validator.New()

// fieldCount is the number of CSV fields a record always carries.
const fieldCount = 6

// Validate checks the struct-tag constraints on r (five-digit zip, two-
// letter state) without touching the encoded form.
func Validate(r zipbss.Record) error {
	if err := validate.Struct(r); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			fe := verrs[0]
			return zipbss.NewFormatError("record.Validate",
				errors.Newf("field %s failed %q constraint", fe.Field(), fe.Tag()))
		}
		return zipbss.NewFormatError("record.Validate", err)
	}
	return nil
}

// EncodeCSV renders r as its six-field comma-separated form, with no
// escaping: matches ZipCodeRecord::toCSV.
func EncodeCSV(r zipbss.Record) string {
	return strings.Join([]string{
		r.Zip,
		r.City,
		r.State,
		r.County,
		strconv.FormatFloat(r.Latitude, 'g', -1, 64),
		strconv.FormatFloat(r.Longitude, 'g', -1, 64),
	}, ",")
}

// DecodeCSV parses a comma-separated line back into a Record: matches
// ZipCodeRecord::fromCSV. Any field count other than six is a format error
// (the original silently zero-fills missing fields; this codec rejects the
// ambiguity instead).
func DecodeCSV(line string) (zipbss.Record, error) {
	parts := strings.Split(line, ",")
	if len(parts) != fieldCount {
		return zipbss.Record{}, zipbss.NewFormatError("record.DecodeCSV",
			errors.Newf("expected %d fields, got %d", fieldCount, len(parts)))
	}
	lat, err := strconv.ParseFloat(parts[4], 64)
	if err != nil {
		return zipbss.Record{}, zipbss.NewFormatError("record.DecodeCSV", err)
	}
	lon, err := strconv.ParseFloat(parts[5], 64)
	if err != nil {
		return zipbss.Record{}, zipbss.NewFormatError("record.DecodeCSV", err)
	}
	return zipbss.Record{
		Zip:       parts[0],
		City:      parts[1],
		State:     parts[2],
		County:    parts[3],
		Latitude:  lat,
		Longitude: lon,
	}, nil
}

// Encode packs r into its length-indicated wire form: an ASCII zero-padded
// (or, if binary is true, big-endian binary) length field of sizeBytes
// bytes, immediately followed by the CSV payload. Matches RecordBuffer::pack.
func Encode(r zipbss.Record, sizeBytes int, binary bool) ([]byte, error) {
	if err := Validate(r); err != nil {
		return nil, err
	}
	payload := EncodeCSV(r)
	prefix, err := encodeLength(len(payload), sizeBytes, binary)
	if err != nil {
		return nil, &zipbss.CapacityError{Key: r.Zip, EncodedLength: len(payload) + sizeBytes}
	}
	out := make([]byte, 0, len(prefix)+len(payload))
	out = append(out, prefix...)
	out = append(out, payload...)
	return out, nil
}

// Decode reads one length-indicated record starting at buf[0], returning the
// parsed record and the number of bytes consumed (sizeBytes + payload
// length). Matches RecordBuffer::unpack / getLength.
func Decode(buf []byte, sizeBytes int, binary bool) (zipbss.Record, int, error) {
	if len(buf) < sizeBytes {
		return zipbss.Record{}, 0, zipbss.NewFormatError("record.Decode",
			errors.Newf("buffer too short for a %d-byte length prefix", sizeBytes))
	}
	length, err := decodeLength(buf[:sizeBytes], binary)
	if err != nil {
		return zipbss.Record{}, 0, zipbss.NewFormatError("record.Decode", err)
	}
	total := sizeBytes + length
	if total > len(buf) {
		return zipbss.Record{}, 0, zipbss.NewFormatError("record.Decode",
			errors.Newf("record claims %d bytes, only %d available", total, len(buf)))
	}
	rec, err := DecodeCSV(string(buf[sizeBytes:total]))
	if err != nil {
		return zipbss.Record{}, 0, err
	}
	return rec, total, nil
}

// EncodedLength returns the total byte length (prefix + payload) that
// Encode would produce for r, without actually encoding it.
func EncodedLength(r zipbss.Record, sizeBytes int) int {
	return sizeBytes + len(EncodeCSV(r))
}

func encodeLength(n, sizeBytes int, binary bool) ([]byte, error) {
	if binary {
		max := 1
		for i := 0; i < sizeBytes; i++ {
			max *= 256
		}
		if n >= max {
			return nil, fmt.Errorf("length %d overflows %d-byte binary field", n, sizeBytes)
		}
		out := make([]byte, sizeBytes)
		v := n
		for i := sizeBytes - 1; i >= 0; i-- {
			out[i] = byte(v & 0xFF)
			v >>= 8
		}
		return out, nil
	}
	s := strconv.Itoa(n)
	if len(s) > sizeBytes {
		return nil, fmt.Errorf("length %d overflows %d-byte ASCII field", n, sizeBytes)
	}
	return []byte(strings.Repeat("0", sizeBytes-len(s)) + s), nil
}

func decodeLength(field []byte, binary bool) (int, error) {
	if binary {
		n := 0
		for _, b := range field {
			n = (n << 8) | int(b)
		}
		return n, nil
	}
	return strconv.Atoi(strings.TrimSpace(string(field)))
}
