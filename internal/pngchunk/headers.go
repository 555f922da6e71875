package pngchunk

import (
	"encoding/binary"
	"fmt"
)

// Color types and bit depths, as per the PNG spec.
const (
	ColorTypeTrueColorAlpha uint8 = 6
	BitDepth8               uint8 = 8
)

// Dispose and blend operators, as per the APNG spec.
const (
	DisposeOpNone       uint8 = 0
	DisposeOpBackground uint8 = 1
	DisposeOpPrevious   uint8 = 2

	BlendOpSource uint8 = 0
	BlendOpOver   uint8 = 1
)

// IHDR is the image header chunk.
type IHDR struct {
	Width             uint32
	Height            uint32
	BitDepth          uint8
	ColorType         uint8
	CompressionMethod uint8
	FilterMethod      uint8
	InterlaceMethod   uint8
}

// Bytes returns the chunk payload.
func (c IHDR) Bytes() []byte {
	buf := make([]byte, 13)
	binary.BigEndian.PutUint32(buf[0:4], c.Width)
	binary.BigEndian.PutUint32(buf[4:8], c.Height)
	buf[8] = c.BitDepth
	buf[9] = c.ColorType
	buf[10] = c.CompressionMethod
	buf[11] = c.FilterMethod
	buf[12] = c.InterlaceMethod
	return buf
}

// ParseIHDR decodes an IHDR payload.
func ParseIHDR(data []byte) (IHDR, error) {
	if len(data) != 13 {
		return IHDR{}, fmt.Errorf("pngchunk: IHDR has %d bytes, want 13", len(data))
	}
	return IHDR{
		Width:             binary.BigEndian.Uint32(data[0:4]),
		Height:            binary.BigEndian.Uint32(data[4:8]),
		BitDepth:          data[8],
		ColorType:         data[9],
		CompressionMethod: data[10],
		FilterMethod:      data[11],
		InterlaceMethod:   data[12],
	}, nil
}

// ACTL is the animation control chunk. NumPlays of 0 means infinite looping.
type ACTL struct {
	NumFrames uint32
	NumPlays  uint32
}

// Bytes returns the chunk payload.
func (c ACTL) Bytes() []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint32(buf[0:4], c.NumFrames)
	binary.BigEndian.PutUint32(buf[4:8], c.NumPlays)
	return buf
}

// ParseACTL decodes an acTL payload.
func ParseACTL(data []byte) (ACTL, error) {
	if len(data) != 8 {
		return ACTL{}, fmt.Errorf("pngchunk: acTL has %d bytes, want 8", len(data))
	}
	return ACTL{
		NumFrames: binary.BigEndian.Uint32(data[0:4]),
		NumPlays:  binary.BigEndian.Uint32(data[4:8]),
	}, nil
}

// FCTL is the frame control chunk.
type FCTL struct {
	SequenceNumber uint32
	Width          uint32
	Height         uint32
	XOffset        uint32
	YOffset        uint32
	DelayNum       uint16
	DelayDen       uint16
	DisposeOp      uint8
	BlendOp        uint8
}

// Bytes returns the chunk payload.
func (c FCTL) Bytes() []byte {
	buf := make([]byte, 26)
	binary.BigEndian.PutUint32(buf[0:4], c.SequenceNumber)
	binary.BigEndian.PutUint32(buf[4:8], c.Width)
	binary.BigEndian.PutUint32(buf[8:12], c.Height)
	binary.BigEndian.PutUint32(buf[12:16], c.XOffset)
	binary.BigEndian.PutUint32(buf[16:20], c.YOffset)
	binary.BigEndian.PutUint16(buf[20:22], c.DelayNum)
	binary.BigEndian.PutUint16(buf[22:24], c.DelayDen)
	buf[24] = c.DisposeOp
	buf[25] = c.BlendOp
	return buf
}

// ParseFCTL decodes an fcTL payload.
func ParseFCTL(data []byte) (FCTL, error) {
	if len(data) != 26 {
		return FCTL{}, fmt.Errorf("pngchunk: fcTL has %d bytes, want 26", len(data))
	}
	return FCTL{
		SequenceNumber: binary.BigEndian.Uint32(data[0:4]),
		Width:          binary.BigEndian.Uint32(data[4:8]),
		Height:         binary.BigEndian.Uint32(data[8:12]),
		XOffset:        binary.BigEndian.Uint32(data[12:16]),
		YOffset:        binary.BigEndian.Uint32(data[16:20]),
		DelayNum:       binary.BigEndian.Uint16(data[20:22]),
		DelayDen:       binary.BigEndian.Uint16(data[22:24]),
		DisposeOp:      data[24],
		BlendOp:        data[25],
	}, nil
}

// FDAT builds an fdAT payload: a sequence number followed by zlib data.
func FDAT(seq uint32, zdata []byte) []byte {
	buf := make([]byte, 4+len(zdata))
	binary.BigEndian.PutUint32(buf[0:4], seq)
	copy(buf[4:], zdata)
	return buf
}

// SplitFDAT returns the sequence number and zlib data of an fdAT payload.
func SplitFDAT(data []byte) (uint32, []byte, error) {
	if len(data) < 4 {
		return 0, nil, fmt.Errorf("pngchunk: fdAT has %d bytes", len(data))
	}
	return binary.BigEndian.Uint32(data[0:4]), data[4:], nil
}
