package convert

import (
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/cuemby/logship/pkg/apperror"
)

var (
	encoderOnce sync.Once
	encoder     *zstd.Encoder
	encoderErr  error

	decoderOnce sync.Once
	decoder     *zstd.Decoder
	decoderErr  error
)

func sharedEncoder() (*zstd.Encoder, error) {
	encoderOnce.Do(func() {
		encoder, encoderErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	})
	return encoder, encoderErr
}

func sharedDecoder() (*zstd.Decoder, error) {
	decoderOnce.Do(func() {
		decoder, decoderErr = zstd.NewReader(nil)
	})
	return decoder, decoderErr
}

// compress zstd-encodes data. The package-level encoder is safe for
// concurrent use across the bounded conversion worker pool.
func compress(data []byte) ([]byte, error) {
	enc, err := sharedEncoder()
	if err != nil {
		return nil, apperror.Wrap(apperror.KindFatal, "init zstd encoder", err)
	}
	return enc.EncodeAll(data, nil), nil
}

// decompress reverses compress.
func decompress(data []byte) ([]byte, error) {
	dec, err := sharedDecoder()
	if err != nil {
		return nil, apperror.Wrap(apperror.KindFatal, "init zstd decoder", err)
	}
	out, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, apperror.Wrap(apperror.KindStagingCorrupt, "decompress row group", err)
	}
	return out, nil
}
