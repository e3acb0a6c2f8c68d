package compression

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// 每个编码后的对象都带一个字节的头，区分“原样存储”和“zstd 压缩”
const (
	formatRaw  byte = 0x00
	formatZstd byte = 0x01
)

// minSize 以下的数据不压缩，收益太小
const minSize = 128

// Compressor 封装 zstd 编解码器
// Encoder/Decoder 的 EncodeAll/DecodeAll 是并发安全的，可以全局复用
type Compressor struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
	enabled bool
}

// NewCompressor level: 1=最快 2=默认 3=更高压缩率
func NewCompressor(level int, enabled bool) (*Compressor, error) {
	if !enabled {
		return &Compressor{enabled: false}, nil
	}

	var encoderLevel zstd.EncoderLevel
	switch level {
	case 1:
		encoderLevel = zstd.SpeedFastest
	case 3:
		encoderLevel = zstd.SpeedBetterCompression
	default:
		encoderLevel = zstd.SpeedDefault
	}

	encoder, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(encoderLevel),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	return &Compressor{
		encoder: encoder,
		decoder: decoder,
		enabled: true,
	}, nil
}

// Encode 压缩数据并加上格式头；如果压缩后没有变小，原样存储
func (c *Compressor) Encode(data []byte) []byte {
	if c.enabled && len(data) >= minSize {
		out := make([]byte, 1, len(data)+1)
		out[0] = formatZstd
		out = c.encoder.EncodeAll(data, out)
		if len(out) < len(data)+1 {
			return out
		}
	}

	out := make([]byte, 0, len(data)+1)
	out = append(out, formatRaw)
	return append(out, data...)
}

// Decode 还原 Encode 的输出
func (c *Compressor) Decode(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("corrupt object: missing format header")
	}

	switch data[0] {
	case formatRaw:
		return data[1:], nil
	case formatZstd:
		if c.decoder == nil {
			// 关闭压缩后仍需读取历史数据，临时创建解码器
			dec, err := zstd.NewReader(nil)
			if err != nil {
				return nil, err
			}
			defer dec.Close()
			return decodeAll(dec, data[1:])
		}
		return decodeAll(c.decoder, data[1:])
	default:
		return nil, fmt.Errorf("corrupt object: unknown format 0x%02x", data[0])
	}
}

func decodeAll(dec *zstd.Decoder, payload []byte) ([]byte, error) {
	out, err := dec.DecodeAll(payload, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decode failed: %w", err)
	}
	return out, nil
}

func (c *Compressor) Close() error {
	if c.encoder != nil {
		c.encoder.Close()
	}
	if c.decoder != nil {
		c.decoder.Close()
	}
	return nil
}
