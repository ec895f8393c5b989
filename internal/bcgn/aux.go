package bcgn

import (
	"bytes"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"
)

// compressAux LZ4-compresses plain as one LZ4 frame, prefixed with its u16
// compressed length, for the file header's auxiliary-compression flag (spec
// §4.1.2: "one-byte auxiliary-compression flag").
func compressAux(plain []byte) ([]byte, error) {
	var out bytes.Buffer
	w := lz4.NewWriter(&out)
	if _, err := w.Write(plain); err != nil {
		return nil, fmt.Errorf("bcgn: lz4 compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("bcgn: lz4 compress: %w", err)
	}
	if out.Len() > 0xFFFF {
		return nil, fmt.Errorf("bcgn: compressed aux block too large (%d bytes)", out.Len())
	}
	buf := make([]byte, 2, 2+out.Len())
	putUint16(buf, uint16(out.Len()))
	return append(buf, out.Bytes()...), nil
}

// decompressAux reads a u16-length-prefixed LZ4 frame written by
// compressAux, returning the decompressed bytes and the number of input
// bytes consumed.
func decompressAux(buf []byte) ([]byte, int, error) {
	if len(buf) < 2 {
		return nil, 0, fmt.Errorf("bcgn: truncated aux block length")
	}
	n := int(getUint16(buf[0:2]))
	if len(buf) < 2+n {
		return nil, 0, fmt.Errorf("bcgn: truncated aux block body")
	}
	r := lz4.NewReader(bytes.NewReader(buf[2 : 2+n]))
	plain, err := io.ReadAll(r)
	if err != nil {
		return nil, 0, fmt.Errorf("bcgn: lz4 decompress: %w", err)
	}
	return plain, 2 + n, nil
}
