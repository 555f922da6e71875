// Package pngchunk reads and writes the chunk layer of PNG and APNG streams.
//
// For the chunk layouts, see:
//
// https://www.w3.org/TR/png/
// https://wiki.mozilla.org/APNG_Specification
package pngchunk

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
)

// Signature is the 8-byte magic that starts every PNG stream.
const Signature = "\x89PNG\r\n\x1a\n"

// Chunk types used by the encoder and the optimizer.
const (
	TypeIHDR = "IHDR"
	TypeIDAT = "IDAT"
	TypeIEND = "IEND"
	TypeACTL = "acTL"
	TypeFCTL = "fcTL"
	TypeFDAT = "fdAT"
)

var (
	ErrSignature = errors.New("pngchunk: invalid PNG signature")
	ErrChecksum  = errors.New("pngchunk: chunk CRC mismatch")
	ErrTruncated = errors.New("pngchunk: truncated chunk")
)

// Chunk is one raw chunk: its four-letter type and payload, without length or CRC.
type Chunk struct {
	Type string
	Data []byte
}

// Write encodes a chunk (length, type, data, CRC) to w.
func Write(w io.Writer, typ string, data []byte) error {
	if len(typ) != 4 {
		return fmt.Errorf("pngchunk: invalid chunk type %q", typ)
	}

	var header [8]byte
	binary.BigEndian.PutUint32(header[:4], uint32(len(data)))
	copy(header[4:], typ)

	crc := crc32.NewIEEE()
	crc.Write(header[4:8])
	crc.Write(data)

	var footer [4]byte
	binary.BigEndian.PutUint32(footer[:], crc.Sum32())

	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err := w.Write(footer[:])
	return err
}

// Decode splits a complete PNG stream into chunks, stopping after IEND.
func Decode(data []byte) ([]Chunk, error) {
	if !bytes.HasPrefix(data, []byte(Signature)) {
		return nil, ErrSignature
	}

	var chunks []Chunk
	rest := data[len(Signature):]
	for len(rest) > 0 {
		if len(rest) < 12 {
			return nil, ErrTruncated
		}
		length := binary.BigEndian.Uint32(rest[:4])
		if uint64(length)+12 > uint64(len(rest)) {
			return nil, ErrTruncated
		}
		typ := string(rest[4:8])
		payload := rest[8 : 8+length]
		sum := binary.BigEndian.Uint32(rest[8+length : 12+length])

		crc := crc32.NewIEEE()
		crc.Write(rest[4:8])
		crc.Write(payload)
		if crc.Sum32() != sum {
			return nil, fmt.Errorf("%w in %s", ErrChecksum, typ)
		}

		chunks = append(chunks, Chunk{Type: typ, Data: payload})
		rest = rest[12+length:]
		if typ == TypeIEND {
			break
		}
	}

	if len(chunks) == 0 || chunks[len(chunks)-1].Type != TypeIEND {
		return nil, ErrTruncated
	}
	return chunks, nil
}

// IsAncillaryMetadata reports whether a chunk only carries metadata that can be
// dropped without changing decoded pixels or animation timing.
func IsAncillaryMetadata(typ string) bool {
	switch typ {
	case "tEXt", "zTXt", "iTXt", "eXIf", "tIME":
		return true
	default:
		return false
	}
}
