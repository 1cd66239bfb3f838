package compress

import (
	"bytes"
	"compress/zlib"

	"github.com/pkg/errors"
)

// Compressor is a fast, single threaded compressor.
// This type allows us to reuse buffers etc for performance
type Compressor interface {
	// Compress compresses the byte array
	Compress(b []byte) ([]byte, error)
}

// ZlibCompressor compresses to Zlib.  Payloads smaller than minCompressSize are returned untouched, which is safe
// because ZlibDecompressor passes through anything that doesn't carry a zlib header.
type ZlibCompressor struct {
	buffer          bytes.Buffer
	writer          *zlib.Writer
	minCompressSize int
}

func NewZlibCompressor(minCompressSize int) (*ZlibCompressor, error) {
	c := &ZlibCompressor{minCompressSize: minCompressSize}
	writer, err := zlib.NewWriterLevel(&c.buffer, zlib.BestSpeed)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	c.writer = writer
	return c, nil
}

func (c *ZlibCompressor) Compress(b []byte) ([]byte, error) {
	if len(b) < c.minCompressSize {
		return b, nil
	}
	c.buffer.Reset()
	c.writer.Reset(&c.buffer)
	if _, err := c.writer.Write(b); err != nil {
		return nil, errors.WithStack(err)
	}
	if err := c.writer.Close(); err != nil {
		return nil, errors.WithStack(err)
	}
	out := make([]byte, c.buffer.Len())
	copy(out, c.buffer.Bytes())
	return out, nil
}
