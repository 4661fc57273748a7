// Package header implements the self-describing file header (C3): a
// padded, line-oriented KEY=VALUE text record at file offset 0 that
// describes a blocked sequence set store well enough to reopen it cold.
package header

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/dropbox/godropbox/errors"

	"github.com/caseyhaas/zipbss"
)

// FileStructureTag identifies this store's on-disk format in the header.
const FileStructureTag = "blocked_sequence_set_comma_separated_length_indicated"

const safetyPad = 100
const alignment = 512
const readEstimate = 1024

// Header is the parsed form of the file-wide metadata record.
type Header struct {
	FileStructure    string
	Version          int
	HeaderSize       int
	RecordSizeBytes  int
	SizeFormat       string // "ASCII" or "binary"
	BlockSize        int
	MinBlockCapacity float64
	IndexFile        string
	IndexSchema      string
	RecordCount      int
	BlockCount       int
	Fields           []zipbss.FieldDescriptor
	PrimaryKeyField  int
	AvailListHead    int32
	ActiveListHead   int32
	StaleFlag        bool
}

// New builds a fresh header for a store about to be initialised.
func New(indexFile string, blockSize, recordSizeBytes int, binary bool) *Header {
	sizeFormat := "ASCII"
	if binary {
		sizeFormat = "binary"
	}
	h := &Header{
		FileStructure:    FileStructureTag,
		Version:          1,
		RecordSizeBytes:  recordSizeBytes,
		SizeFormat:       sizeFormat,
		BlockSize:        blockSize,
		MinBlockCapacity: 0.5,
		IndexFile:        indexFile,
		IndexSchema:      "key,rbn",
		Fields:           zipbss.DefaultFields,
		PrimaryKeyField:  zipbss.PrimaryKeyField,
		AvailListHead:    zipbss.InvalidRBN,
		ActiveListHead:   zipbss.InvalidRBN,
	}
	h.HeaderSize = h.ComputeSize()
	return h
}

// ComputeSize renders the header at its current field values (using a
// placeholder for HEADER_SIZE itself, since the field hasn't been decided
// yet) and rounds the total up to the next multiple of 512 bytes, with a
// 100-byte safety margin. Matches HeaderRecordBuffer::calculateHeaderSize.
func (h *Header) ComputeSize() int {
	size := 0
	for _, line := range h.lines(0) {
		size += len(line) + 1
	}
	size += safetyPad
	if size%alignment != 0 {
		size = (size/alignment + 1) * alignment
	}
	return size
}

func (h *Header) lines(headerSizeValue int) []string {
	lines := []string{
		"FILE_STRUCTURE=" + h.FileStructure,
		"VERSION=" + strconv.Itoa(h.Version),
		"HEADER_SIZE=" + strconv.Itoa(headerSizeValue),
		"RECORD_SIZE_BYTES=" + strconv.Itoa(h.RecordSizeBytes),
		"SIZE_FORMAT=" + h.SizeFormat,
		"BLOCK_SIZE=" + strconv.Itoa(h.BlockSize),
		"MIN_BLOCK_CAPACITY=" + strconv.FormatFloat(h.MinBlockCapacity, 'f', 6, 64),
		"INDEX_FILE=" + h.IndexFile,
		"INDEX_SCHEMA=" + h.IndexSchema,
		"RECORD_COUNT=" + strconv.Itoa(h.RecordCount),
		"BLOCK_COUNT=" + strconv.Itoa(h.BlockCount),
		"FIELDS_PER_RECORD=" + strconv.Itoa(len(h.Fields)),
	}
	for i, f := range h.Fields {
		lines = append(lines,
			fmt.Sprintf("FIELD_%d_NAME=%s", i, f.Name),
			fmt.Sprintf("FIELD_%d_TYPE=%s", i, f.Type),
		)
	}
	lines = append(lines,
		"PRIMARY_KEY_FIELD="+strconv.Itoa(h.PrimaryKeyField),
		"AVAIL_LIST_HEAD="+strconv.Itoa(int(h.AvailListHead)),
		"ACTIVE_LIST_HEAD="+strconv.Itoa(int(h.ActiveListHead)),
		"STALE_FLAG="+flagString(h.StaleFlag),
	)
	return lines
}

func flagString(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// Write renders the header and writes it, space-padded, to offset 0.
func (h *Header) Write(f *os.File) error {
	if h.HeaderSize == 0 {
		h.HeaderSize = h.ComputeSize()
	}
	var buf bytes.Buffer
	for _, line := range h.lines(h.HeaderSize) {
		buf.WriteString(line)
		buf.WriteByte('\n')
	}
	if buf.Len() > h.HeaderSize {
		return zipbss.NewCorruption("rendered header is %d bytes, exceeds declared HEADER_SIZE %d", buf.Len(), h.HeaderSize)
	}
	buf.Write(bytes.Repeat([]byte{' '}, h.HeaderSize-buf.Len()))
	if _, err := f.WriteAt(buf.Bytes(), 0); err != nil {
		return zipbss.WrapIO("header.Write", err)
	}
	return nil
}

// Read parses the header at offset 0 of f and leaves f's offset at
// HeaderSize, where block 0 begins.
func Read(f *os.File) (*Header, error) {
	raw := make([]byte, readEstimate)
	n, err := f.ReadAt(raw, 0)
	if err != nil && err != io.EOF {
		return nil, zipbss.WrapIO("header.Read", err)
	}
	fields := map[string]string{}
	for _, line := range strings.Split(string(raw[:n]), "\n") {
		eq := strings.IndexByte(line, '=')
		if eq < 0 {
			continue
		}
		fields[line[:eq]] = line[eq+1:]
	}

	h := &Header{
		FileStructure: fields["FILE_STRUCTURE"],
		SizeFormat:    fields["SIZE_FORMAT"],
		IndexFile:     fields["INDEX_FILE"],
		IndexSchema:   fields["INDEX_SCHEMA"],
	}
	if h.FileStructure == "" {
		return nil, zipbss.NewFormatError("header.Read", errors.New("missing FILE_STRUCTURE field"))
	}
	h.Version = atoi(fields["VERSION"])
	h.HeaderSize = atoi(fields["HEADER_SIZE"])
	h.RecordSizeBytes = atoi(fields["RECORD_SIZE_BYTES"])
	h.BlockSize = atoi(fields["BLOCK_SIZE"])
	h.MinBlockCapacity, _ = strconv.ParseFloat(fields["MIN_BLOCK_CAPACITY"], 64)
	h.RecordCount = atoi(fields["RECORD_COUNT"])
	h.BlockCount = atoi(fields["BLOCK_COUNT"])
	h.PrimaryKeyField = atoi(fields["PRIMARY_KEY_FIELD"])
	h.AvailListHead = int32(atoi(fields["AVAIL_LIST_HEAD"]))
	h.ActiveListHead = int32(atoi(fields["ACTIVE_LIST_HEAD"]))
	h.StaleFlag = fields["STALE_FLAG"] == "1"

	fieldsPerRecord := atoi(fields["FIELDS_PER_RECORD"])
	h.Fields = make([]zipbss.FieldDescriptor, fieldsPerRecord)
	for i := 0; i < fieldsPerRecord; i++ {
		h.Fields[i] = zipbss.FieldDescriptor{
			Name: fields[fmt.Sprintf("FIELD_%d_NAME", i)],
			Type: fields[fmt.Sprintf("FIELD_%d_TYPE", i)],
		}
	}

	if h.HeaderSize <= 0 {
		return nil, zipbss.NewFormatError("header.Read", errors.New("missing or invalid HEADER_SIZE"))
	}
	if _, err := f.Seek(int64(h.HeaderSize), io.SeekStart); err != nil {
		return nil, zipbss.WrapIO("header.Read", err)
	}
	return h, nil
}

func atoi(s string) int {
	n, _ := strconv.Atoi(strings.TrimSpace(s))
	return n
}

// IsBinary reports whether this store's record length fields are encoded
// as big-endian binary rather than zero-padded ASCII.
func (h *Header) IsBinary() bool {
	return h.SizeFormat == "binary"
}

// MarkStale sets the stale flag, to be written before any block mutation
// begins; ClearStale clears it. The engine clears it in the header write
// that follows an operation's block writes, and rewrites the sidecar index
// only after that, so the flag does not cover the sidecar rewrite. A header
// read back with the flag still set indicates a crash during the block
// writes.
func (h *Header) MarkStale()  { h.StaleFlag = true }
func (h *Header) ClearStale() { h.StaleFlag = false }
