package framing

import (
	"io"

	"github.com/klauspost/compress/zstd"
)

// sharedDecoder avoids re-initializing the decoder tables for every
// compressed record: one *zstd.Decoder, created at init, is reused for
// every DecodeAll call.
var sharedDecoder *zstd.Decoder

func init() {
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		panic(err)
	}

	sharedDecoder = dec
}

// decompressZstd decodes a single Zstd frame into a fresh buffer.
func decompressZstd(body []byte) ([]byte, error) {
	out, err := sharedDecoder.DecodeAll(body, nil)
	if err != nil && err != io.EOF {
		return nil, err
	}

	return out, nil
}
