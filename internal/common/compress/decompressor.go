package compress

import (
	"bytes"
	"compress/zlib"
	"io"

	"github.com/pkg/errors"
)

// Decompressor is a fast, single threaded decompressor.
type Decompressor interface {
	// Decompress decompresses the byte array
	Decompress(b []byte) ([]byte, error)
}

// IsZlib reports whether b starts with a zlib header: deflate method with a valid FCHECK.
func IsZlib(b []byte) bool {
	if len(b) < 2 {
		return false
	}
	cmf, flg := b[0], b[1]
	return cmf&0x0f == 8 && (uint16(cmf)<<8|uint16(flg))%31 == 0
}

// ZlibDecompressor decompresses Zlib.  Input without a zlib header is returned as is.
type ZlibDecompressor struct {
	outputBuffer bytes.Buffer
	reader       io.ReadCloser
}

func NewZlibDecompressor() *ZlibDecompressor {
	return &ZlibDecompressor{}
}

func (d *ZlibDecompressor) Decompress(b []byte) ([]byte, error) {
	if !IsZlib(b) {
		return b, nil
	}
	inputBuffer := bytes.NewReader(b)
	if d.reader == nil {
		reader, err := zlib.NewReader(inputBuffer)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		d.reader = reader
	} else if err := d.reader.(zlib.Resetter).Reset(inputBuffer, nil); err != nil {
		return nil, errors.WithStack(err)
	}
	d.outputBuffer.Reset()

	if _, err := io.Copy(&d.outputBuffer, d.reader); err != nil {
		return nil, errors.WithStack(err)
	}
	out := make([]byte, d.outputBuffer.Len())
	copy(out, d.outputBuffer.Bytes())
	return out, nil
}
