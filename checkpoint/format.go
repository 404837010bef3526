package checkpoint

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/hupe1980/reid/internal/hash"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

const (
	// Magic identifies checkpoint files.
	Magic = "RIDC"
	// Version is the current format version.
	Version uint16 = 1

	fixedHeaderSize = 4 + 2 + 1 + 1
	lengthsSize     = 8 + 8
	trailerSize     = hash.Size

	// maxPayload bounds allocations when reading a corrupt header.
	maxPayload = 1 << 34
)

var (
	// ErrInvalidMagic is returned when the data does not start with Magic.
	ErrInvalidMagic = errors.New("invalid checkpoint magic")
	// ErrUnsupportedVersion is returned for any format version but Version.
	ErrUnsupportedVersion = errors.New("unsupported checkpoint version")
	// ErrUnknownCodec is returned when the payload codec is not registered.
	ErrUnknownCodec = errors.New("unknown checkpoint codec")
	// ErrUnknownCompression is returned for an unknown compression byte or name.
	ErrUnknownCompression = errors.New("unknown checkpoint compression")
	// ErrTruncated is returned when the data ends before the declared lengths.
	ErrTruncated = errors.New("truncated checkpoint")
)

// ChecksumMismatchError is returned when the CRC32C trailer does not match.
type ChecksumMismatchError struct {
	Expected uint32
	Actual   uint32
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("checksum mismatch: expected 0x%08x, got 0x%08x", e.Expected, e.Actual)
}

// Compression selects the payload compression.
type Compression uint8

const (
	// CompressionNone stores the payload as encoded.
	CompressionNone Compression = 0
	// CompressionLZ4 favors load speed. Incompressible payloads fall back
	// to CompressionNone.
	CompressionLZ4 Compression = 1
	// CompressionZstd favors size. It is the default.
	CompressionZstd Compression = 2
)

// String returns the configuration name of c.
func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("Compression(%d)", uint8(c))
	}
}

// ParseCompression parses "none", "lz4" or "zstd".
func ParseCompression(s string) (Compression, error) {
	switch s {
	case "none", "":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownCompression, s)
	}
}

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

func compress(data []byte, c Compression) ([]byte, error) {
	switch c {
	case CompressionNone:
		return data, nil
	case CompressionLZ4:
		dst := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, dst, nil)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			// Incompressible input cannot be expressed as an lz4 block.
			return nil, errIncompressible
		}
		return dst[:n], nil
	case CompressionZstd:
		enc := getZstdEncoder()
		defer zstdEncoderPool.Put(enc)
		return enc.EncodeAll(data, nil), nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownCompression, c)
	}
}

var errIncompressible = errors.New("incompressible payload")

func decompress(data []byte, c Compression, size uint64) ([]byte, error) {
	switch c {
	case CompressionNone:
		if uint64(len(data)) != size {
			return nil, ErrTruncated
		}
		return data, nil
	case CompressionLZ4:
		out := make([]byte, size)
		n, err := lz4.UncompressBlock(data, out)
		if err != nil {
			return nil, err
		}
		if uint64(n) != size {
			return nil, errors.New("decompressed size mismatch")
		}
		return out, nil
	case CompressionZstd:
		dec := getZstdDecoder()
		defer zstdDecoderPool.Put(dec)
		out, err := dec.DecodeAll(data, make([]byte, 0, size))
		if err != nil {
			return nil, err
		}
		if uint64(len(out)) != size {
			return nil, errors.New("decompressed size mismatch")
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownCompression, c)
	}
}

// frame wraps an encoded payload in the checkpoint envelope.
func frame(codecName string, c Compression, payload []byte) ([]byte, error) {
	if len(codecName) > 255 {
		return nil, fmt.Errorf("%w: name too long", ErrUnknownCodec)
	}

	stored, err := compress(payload, c)
	if errors.Is(err, errIncompressible) {
		c, stored, err = CompressionNone, payload, nil
	}
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Grow(fixedHeaderSize + len(codecName) + lengthsSize + len(stored) + trailerSize)
	buf.WriteString(Magic)
	_ = binary.Write(&buf, binary.LittleEndian, Version)
	buf.WriteByte(byte(c))
	buf.WriteByte(byte(len(codecName)))
	buf.WriteString(codecName)
	_ = binary.Write(&buf, binary.LittleEndian, uint64(len(payload)))
	_ = binary.Write(&buf, binary.LittleEndian, uint64(len(stored)))
	buf.Write(stored)
	return hash.AppendCRC32C(buf.Bytes()), nil
}

// header describes a parsed envelope.
type header struct {
	Version     uint16
	Compression Compression
	Codec       string
	Size        uint64
}

// unframe validates the envelope and returns the decompressed payload.
func unframe(data []byte) (header, []byte, error) {
	var h header
	if len(data) < fixedHeaderSize+lengthsSize+trailerSize {
		return h, nil, ErrTruncated
	}
	if string(data[:4]) != Magic {
		return h, nil, ErrInvalidMagic
	}

	body, want, got := hash.SplitCRC32C(data)
	if got != want {
		return h, nil, &ChecksumMismatchError{Expected: want, Actual: got}
	}

	r := bytes.NewReader(body[4:])
	if err := binary.Read(r, binary.LittleEndian, &h.Version); err != nil {
		return h, nil, ErrTruncated
	}
	if h.Version != Version {
		return h, nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, h.Version)
	}
	c, _ := r.ReadByte()
	h.Compression = Compression(c)
	n, err := r.ReadByte()
	if err != nil {
		return h, nil, ErrTruncated
	}
	name := make([]byte, n)
	if _, err := io.ReadFull(r, name); err != nil {
		return h, nil, ErrTruncated
	}
	h.Codec = string(name)

	var stored uint64
	if err := binary.Read(r, binary.LittleEndian, &h.Size); err != nil {
		return h, nil, ErrTruncated
	}
	if err := binary.Read(r, binary.LittleEndian, &stored); err != nil {
		return h, nil, ErrTruncated
	}
	if h.Size > maxPayload || stored != uint64(r.Len()) {
		return h, nil, ErrTruncated
	}

	rest := body[len(body)-r.Len():]
	payload, err := decompress(rest, h.Compression, h.Size)
	if err != nil {
		return h, nil, err
	}
	return h, payload, nil
}
