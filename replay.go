package neodb

import (
	"github.com/klauspost/compress/zstd"
)

// compressReplay packs a replay frame blob for on-disk storage. The blob
// format is engine-owned; nothing outside ever reads it back, so the codec
// only has to match decompressReplay.
func compressReplay(frames []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	return enc.EncodeAll(frames, nil), nil
}

// decompressReplay is the inverse of compressReplay.
func decompressReplay(blob []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return dec.DecodeAll(blob, nil)
}
