package lens

import (
	"sync"

	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zstd"
)

var (
	zstdOnce    sync.Once
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

// EncodeAll and DecodeAll are safe for concurrent use, so a single codec pair is shared.
func zstdCodec() (*zstd.Encoder, *zstd.Decoder) {
	zstdOnce.Do(func() {
		var err error
		zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
		if err != nil {
			panic(err) // only possible with invalid options
		}
		zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
		if err != nil {
			panic(err)
		}
	})
	return zstdEncoder, zstdDecoder
}

// ZstdCompress compresses data with zstd, appending to dst.
func ZstdCompress(dst, data []byte) []byte {
	enc, _ := zstdCodec()
	return enc.EncodeAll(data, dst)
}

// ZstdDecompress decompresses zstd data, appending to dst.
func ZstdDecompress(dst, data []byte) ([]byte, error) {
	_, dec := zstdCodec()
	return dec.DecodeAll(data, dst)
}

// SnappyCompress compresses data into the snappy block format. The dst slice is used if large enough.
func SnappyCompress(dst, data []byte) []byte {
	return s2.EncodeSnappyBetter(dst, data)
}

// SnappyDecompress decompresses a snappy block. The dst slice is used if large enough.
func SnappyDecompress(dst, data []byte) ([]byte, error) {
	return snappy.Decode(dst, data)
}
