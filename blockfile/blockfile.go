// Package blockfile provides fixed-size, offset-addressed block storage on
// top of an *os.File, generalizing the teacher's block_file package to
// start block 0 at an arbitrary header offset rather than file offset 0.
package blockfile

import (
	"os"

	"github.com/dropbox/godropbox/errors"

	"github.com/caseyhaas/zipbss"
)

// BlockFile addresses fixed-size blocks living after a fixed-size header
// region of a single underlying file.
type BlockFile struct {
	File       *os.File
	HeaderSize int64
	BlockSize  int
	NumBlocks  int32
}

// Open opens path for read/write (creating it if absent) and derives the
// current block count from the file's length and header size.
func Open(path string, headerSize int64, blockSize int) (*BlockFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, zipbss.WrapIO("blockfile.Open", err)
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, zipbss.WrapIO("blockfile.Open", err)
	}
	dataSize := stat.Size() - headerSize
	if dataSize < 0 {
		dataSize = 0
	}
	return &BlockFile{
		File:       f,
		HeaderSize: headerSize,
		BlockSize:  blockSize,
		NumBlocks:  int32(dataSize / int64(blockSize)),
	}, nil
}

// offset returns the file position where block rbn begins.
func (bf *BlockFile) offset(rbn int32) int64 {
	return bf.HeaderSize + int64(rbn)*int64(bf.BlockSize)
}

// AllocateBlock grows the file by one block and returns its RBN, which is
// guaranteed to equal the previous value of bf.NumBlocks.
func (bf *BlockFile) AllocateBlock() (int32, error) {
	rbn := bf.NumBlocks
	bf.NumBlocks++
	if err := bf.File.Truncate(bf.offset(bf.NumBlocks)); err != nil {
		bf.NumBlocks--
		return zipbss.InvalidRBN, zipbss.WrapIO("blockfile.AllocateBlock", err)
	}
	return rbn, nil
}

// ReadBlock reads exactly bf.BlockSize bytes from block rbn into b.
func (bf *BlockFile) ReadBlock(b []byte, rbn int32) error {
	if rbn < 0 || rbn >= bf.NumBlocks {
		return zipbss.NewCorruption("rbn must be in [0, %d); got %d", bf.NumBlocks, rbn)
	}
	if len(b) != bf.BlockSize {
		return errors.Newf("len(b) must be %d; got %d", bf.BlockSize, len(b))
	}
	if _, err := bf.File.ReadAt(b, bf.offset(rbn)); err != nil {
		return zipbss.WrapIO("blockfile.ReadBlock", err)
	}
	return nil
}

// WriteBlock writes exactly bf.BlockSize bytes to block rbn.
func (bf *BlockFile) WriteBlock(b []byte, rbn int32) error {
	if rbn < 0 || rbn >= bf.NumBlocks {
		return zipbss.NewCorruption("rbn must be in [0, %d); got %d", bf.NumBlocks, rbn)
	}
	if len(b) != bf.BlockSize {
		return errors.Newf("len(b) must be %d; got %d", bf.BlockSize, len(b))
	}
	if _, err := bf.File.WriteAt(b, bf.offset(rbn)); err != nil {
		return zipbss.WrapIO("blockfile.WriteBlock", err)
	}
	return nil
}

// Close closes the underlying file.
func (bf *BlockFile) Close() error {
	return bf.File.Close()
}
