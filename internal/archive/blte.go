package archive

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
)

var blteMagic = []byte("BLTE")

const modeZlib = 'Z'

// ErrNotBLTE is returned by Decode for data without a BLTE header.
var ErrNotBLTE = errors.New("not a BLTE stream")

// Encode wraps data in a single-chunk BLTE stream: the magic, a zero header
// size (no chunk table) and one zlib chunk.
func Encode(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(blteMagic)
	binary.Write(&buf, binary.BigEndian, uint32(0))
	buf.WriteByte(modeZlib)

	zw, err := zlib.NewWriterLevel(&buf, zlib.BestSpeed)
	if err != nil {
		return nil, fmt.Errorf("creating zlib writer: %w", err)
	}
	if _, err := zw.Write(data); err != nil {
		return nil, fmt.Errorf("compressing: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compressing: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode reverses Encode.
func Decode(encoded []byte) ([]byte, error) {
	if len(encoded) < 9 || !bytes.Equal(encoded[:4], blteMagic) {
		return nil, ErrNotBLTE
	}
	if size := binary.BigEndian.Uint32(encoded[4:8]); size != 0 {
		return nil, fmt.Errorf("chunk tables are not supported (header size %d)", size)
	}
	if mode := encoded[8]; mode != modeZlib {
		return nil, fmt.Errorf("unsupported chunk mode %q", mode)
	}

	zr, err := zlib.NewReader(bytes.NewReader(encoded[9:]))
	if err != nil {
		return nil, fmt.Errorf("opening zlib chunk: %w", err)
	}
	defer zr.Close()
	data, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("decompressing: %w", err)
	}
	return data, nil
}
