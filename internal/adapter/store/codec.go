package store

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"island/internal/domain"
)

// Compression is the block codec applied to vector and index blobs.
type Compression uint8

const (
	CompressionNone Compression = 0
	CompressionLZ4  Compression = 1
	CompressionZSTD Compression = 2
)

// ParseCompression maps a config value to a codec. Empty means zstd.
func ParseCompression(name string) (Compression, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "zstd":
		return CompressionZSTD, nil
	case "lz4":
		return CompressionLZ4, nil
	case "none":
		return CompressionNone, nil
	default:
		return 0, fmt.Errorf("%w: unknown compression %q", domain.ErrInvalidRequest, name)
	}
}

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZSTD:
		return "zstd"
	default:
		return fmt.Sprintf("compression(%d)", uint8(c))
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

// Block format: [codec uint8][uncompressed uint32][compressed uint32][data].
// The codec byte is written per block so a blob stays readable after the
// configured compression changes.
const blockHeaderSize = 9

// compressBlock encodes data with c, storing it raw when compression does
// not save at least ten percent.
func compressBlock(data []byte, c Compression) ([]byte, error) {
	var compressed []byte

	switch c {
	case CompressionNone:
	case CompressionLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, buf, nil)
		if err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		compressed = buf[:n]
	case CompressionZSTD:
		enc := getZstdEncoder()
		compressed = enc.EncodeAll(data, nil)
		zstdEncoderPool.Put(enc)
	default:
		return nil, fmt.Errorf("unknown compression %d", c)
	}

	if len(compressed) == 0 || float64(len(compressed)) > float64(len(data))*0.9 {
		c, compressed = CompressionNone, data
	}

	out := make([]byte, blockHeaderSize+len(compressed))
	out[0] = byte(c)
	binary.LittleEndian.PutUint32(out[1:], uint32(len(data)))
	binary.LittleEndian.PutUint32(out[5:], uint32(len(compressed)))
	copy(out[blockHeaderSize:], compressed)
	return out, nil
}

func decompressBlock(block []byte) ([]byte, error) {
	if len(block) < blockHeaderSize {
		return nil, errors.New("block too small for header")
	}
	c := Compression(block[0])
	rawSize := binary.LittleEndian.Uint32(block[1:])
	size := binary.LittleEndian.Uint32(block[5:])
	if uint64(len(block)) < blockHeaderSize+uint64(size) {
		return nil, errors.New("block data truncated")
	}
	payload := block[blockHeaderSize : blockHeaderSize+int(size)]

	switch c {
	case CompressionNone:
		if size != rawSize {
			return nil, errors.New("raw block size mismatch")
		}
		return payload, nil
	case CompressionLZ4:
		out := make([]byte, rawSize)
		n, err := lz4.UncompressBlock(payload, out)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if uint32(n) != rawSize {
			return nil, errors.New("decompressed size mismatch")
		}
		return out, nil
	case CompressionZSTD:
		dec := getZstdDecoder()
		defer zstdDecoderPool.Put(dec)
		out, err := dec.DecodeAll(payload, make([]byte, 0, rawSize))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if uint32(len(out)) != rawSize {
			return nil, errors.New("decompressed size mismatch")
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown block codec %d", c)
	}
}

// Matrix layout before compression: [rows uint32][dim uint32][rows*dim float32 LE].
func encodeVectors(vectors [][]float32, c Compression) ([]byte, error) {
	dim := 0
	if len(vectors) > 0 {
		dim = len(vectors[0])
	}

	raw := make([]byte, 8+4*len(vectors)*dim)
	binary.LittleEndian.PutUint32(raw[0:], uint32(len(vectors)))
	binary.LittleEndian.PutUint32(raw[4:], uint32(dim))

	off := 8
	for i, v := range vectors {
		if len(v) != dim {
			return nil, fmt.Errorf("%w: row %d has dimension %d, want %d", domain.ErrInvariant, i, len(v), dim)
		}
		for _, x := range v {
			binary.LittleEndian.PutUint32(raw[off:], math.Float32bits(x))
			off += 4
		}
	}
	return compressBlock(raw, c)
}

func decodeVectors(block []byte) ([][]float32, error) {
	raw, err := decompressBlock(block)
	if err != nil {
		return nil, fmt.Errorf("%w: vectors: %v", domain.ErrInvariant, err)
	}
	if len(raw) < 8 {
		return nil, fmt.Errorf("%w: vectors header truncated", domain.ErrInvariant)
	}
	rows := int(binary.LittleEndian.Uint32(raw[0:]))
	dim := int(binary.LittleEndian.Uint32(raw[4:]))
	if len(raw) != 8+4*rows*dim {
		return nil, fmt.Errorf("%w: vectors payload is %d bytes for %dx%d", domain.ErrInvariant, len(raw), rows, dim)
	}

	// One backing array keeps rows contiguous.
	flat := make([]float32, rows*dim)
	for i := range flat {
		flat[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[8+4*i:]))
	}
	out := make([][]float32, rows)
	for i := range out {
		out[i] = flat[i*dim : (i+1)*dim : (i+1)*dim]
	}
	return out, nil
}

func encodeIndex(blob []byte, c Compression) ([]byte, error) {
	if len(blob) == 0 {
		return nil, nil
	}
	return compressBlock(blob, c)
}

func decodeIndex(block []byte) ([]byte, error) {
	if len(block) == 0 {
		return nil, nil
	}
	out, err := decompressBlock(block)
	if err != nil {
		return nil, fmt.Errorf("%w: index: %v", domain.ErrInvariant, err)
	}
	return out, nil
}

// encodeSpans writes one JSON object per line.
func encodeSpans(spans []domain.Span) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for _, s := range spans {
		if err := enc.Encode(s); err != nil {
			return nil, fmt.Errorf("failed to encode span %d: %w", s.SpanID, err)
		}
	}
	return buf.Bytes(), nil
}

func decodeSpans(data []byte) ([]domain.Span, error) {
	var spans []domain.Span
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var s domain.Span
		if err := json.Unmarshal(line, &s); err != nil {
			return nil, fmt.Errorf("%w: spans line %d: %v", domain.ErrInvariant, len(spans)+1, err)
		}
		spans = append(spans, s)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: spans: %v", domain.ErrInvariant, err)
	}
	return spans, nil
}

func encodeMeta(m domain.WorldMeta) ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}

func decodeMeta(data []byte) (domain.WorldMeta, error) {
	var m domain.WorldMeta
	if err := json.Unmarshal(data, &m); err != nil {
		return domain.WorldMeta{}, fmt.Errorf("%w: meta: %v", domain.ErrInvariant, err)
	}
	if err := m.Validate(); err != nil {
		return domain.WorldMeta{}, err
	}
	return m, nil
}

// loadArtifact validates a decoded artifact as a whole.
func loadArtifact(meta domain.WorldMeta, spansData, vectorsData, indexData []byte) (*domain.Artifact, error) {
	spans, err := decodeSpans(spansData)
	if err != nil {
		return nil, err
	}
	vectors, err := decodeVectors(vectorsData)
	if err != nil {
		return nil, err
	}
	index, err := decodeIndex(indexData)
	if err != nil {
		return nil, err
	}

	a := &domain.Artifact{Meta: meta, Spans: spans, Vectors: vectors, Index: index}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return a, nil
}
