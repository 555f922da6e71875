// Package webpmux builds and parses the RIFF container of animated WebP files.
//
// For the container layout, see:
//
// https://developers.google.com/speed/webp/docs/riff_container
package webpmux

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// Chunk FourCCs.
const (
	FourCCVP8X = "VP8X"
	FourCCVP8  = "VP8 "
	FourCCVP8L = "VP8L"
	FourCCALPH = "ALPH"
	FourCCANIM = "ANIM"
	FourCCANMF = "ANMF"
)

// VP8X feature flags.
const (
	flagAnimation = 1 << 1
	flagAlpha     = 1 << 4
)

// ANMF frame flags.
const (
	frameDispose  = 1 << 0
	frameNoBlend  = 1 << 1
	maxDimension  = 1 << 24
	maxDurationMS = 1<<24 - 1
)

var (
	ErrNotWebP      = errors.New("webpmux: not a RIFF/WEBP stream")
	ErrTruncated    = errors.New("webpmux: truncated chunk")
	ErrNoImageChunk = errors.New("webpmux: no VP8/VP8L image chunk")
	ErrNotAnimated  = errors.New("webpmux: stream is not animated")
)

// Chunk is one RIFF chunk, without its header or padding byte.
type Chunk struct {
	FourCC string
	Data   []byte
}

// Frame is one ANMF frame. Chunks hold the frame bitstream: an optional ALPH
// chunk followed by a VP8 chunk, or a single VP8L chunk.
type Frame struct {
	X, Y          int
	Width, Height int
	Duration      int // milliseconds
	Dispose       bool
	Blend         bool
	Chunks        []Chunk
}

// Animation is the content of an animated WebP file.
type Animation struct {
	Width, Height int
	LoopCount     uint16 // 0 = infinite
	Background    uint32 // BGRA
	Frames        []Frame
}

// Marshal encodes the animation as a complete RIFF/WEBP stream.
func (a *Animation) Marshal() ([]byte, error) {
	if len(a.Frames) == 0 {
		return nil, errors.New("webpmux: animation has no frames")
	}
	if a.Width <= 0 || a.Height <= 0 || a.Width > maxDimension || a.Height > maxDimension {
		return nil, fmt.Errorf("webpmux: invalid canvas %dx%d", a.Width, a.Height)
	}

	var flags byte = flagAnimation
	for _, f := range a.Frames {
		if hasChunk(f.Chunks, FourCCALPH) || hasChunk(f.Chunks, FourCCVP8L) {
			flags |= flagAlpha
			break
		}
	}

	var body bytes.Buffer
	body.WriteString("WEBP")

	vp8x := make([]byte, 10)
	vp8x[0] = flags
	putUint24(vp8x[4:7], uint32(a.Width-1))
	putUint24(vp8x[7:10], uint32(a.Height-1))
	writeChunk(&body, FourCCVP8X, vp8x)

	anim := make([]byte, 6)
	binary.LittleEndian.PutUint32(anim[0:4], a.Background)
	binary.LittleEndian.PutUint16(anim[4:6], a.LoopCount)
	writeChunk(&body, FourCCANIM, anim)

	for i, f := range a.Frames {
		payload, err := f.marshal()
		if err != nil {
			return nil, fmt.Errorf("frame %d: %w", i, err)
		}
		writeChunk(&body, FourCCANMF, payload)
	}

	out := make([]byte, 8, 8+body.Len())
	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(body.Len()))
	return append(out, body.Bytes()...), nil
}

func (f Frame) marshal() ([]byte, error) {
	if !hasChunk(f.Chunks, FourCCVP8) && !hasChunk(f.Chunks, FourCCVP8L) {
		return nil, ErrNoImageChunk
	}
	if f.Width <= 0 || f.Height <= 0 {
		return nil, fmt.Errorf("webpmux: invalid frame size %dx%d", f.Width, f.Height)
	}

	duration := f.Duration
	if duration < 0 {
		duration = 0
	}
	if duration > maxDurationMS {
		duration = maxDurationMS
	}

	var buf bytes.Buffer
	header := make([]byte, 16)
	putUint24(header[0:3], uint32(f.X/2))
	putUint24(header[3:6], uint32(f.Y/2))
	putUint24(header[6:9], uint32(f.Width-1))
	putUint24(header[9:12], uint32(f.Height-1))
	putUint24(header[12:15], uint32(duration))
	var flags byte
	if f.Dispose {
		flags |= frameDispose
	}
	if !f.Blend {
		flags |= frameNoBlend
	}
	header[15] = flags
	buf.Write(header)

	for _, c := range f.Chunks {
		writeChunk(&buf, c.FourCC, c.Data)
	}
	return buf.Bytes(), nil
}

// Parse decodes an animated RIFF/WEBP stream.
func Parse(data []byte) (*Animation, error) {
	chunks, err := ReadChunks(data)
	if err != nil {
		return nil, err
	}

	a := &Animation{}
	sawVP8X := false
	for _, c := range chunks {
		switch c.FourCC {
		case FourCCVP8X:
			if len(c.Data) < 10 {
				return nil, ErrTruncated
			}
			if c.Data[0]&flagAnimation == 0 {
				return nil, ErrNotAnimated
			}
			a.Width = int(uint24(c.Data[4:7])) + 1
			a.Height = int(uint24(c.Data[7:10])) + 1
			sawVP8X = true
		case FourCCANIM:
			if len(c.Data) < 6 {
				return nil, ErrTruncated
			}
			a.Background = binary.LittleEndian.Uint32(c.Data[0:4])
			a.LoopCount = binary.LittleEndian.Uint16(c.Data[4:6])
		case FourCCANMF:
			f, err := parseFrame(c.Data)
			if err != nil {
				return nil, err
			}
			a.Frames = append(a.Frames, f)
		}
	}
	if !sawVP8X {
		return nil, ErrNotAnimated
	}
	return a, nil
}

func parseFrame(data []byte) (Frame, error) {
	if len(data) < 16 {
		return Frame{}, ErrTruncated
	}
	f := Frame{
		X:        int(uint24(data[0:3])) * 2,
		Y:        int(uint24(data[3:6])) * 2,
		Width:    int(uint24(data[6:9])) + 1,
		Height:   int(uint24(data[9:12])) + 1,
		Duration: int(uint24(data[12:15])),
		Dispose:  data[15]&frameDispose != 0,
		Blend:    data[15]&frameNoBlend == 0,
	}
	chunks, err := splitChunks(data[16:])
	if err != nil {
		return Frame{}, err
	}
	f.Chunks = chunks
	return f, nil
}

// ReadChunks returns the top-level chunks of a RIFF/WEBP stream.
func ReadChunks(data []byte) ([]Chunk, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WEBP" {
		return nil, ErrNotWebP
	}
	size := int(binary.LittleEndian.Uint32(data[4:8]))
	if size < 4 || 8+size > len(data) {
		return nil, ErrTruncated
	}
	return splitChunks(data[12 : 8+size])
}

// ImageChunks extracts the bitstream chunks (ALPH, VP8, VP8L) of a still WebP,
// in file order, ready to be placed inside an ANMF frame.
func ImageChunks(still []byte) ([]Chunk, error) {
	chunks, err := ReadChunks(still)
	if err != nil {
		return nil, err
	}
	var out []Chunk
	for _, c := range chunks {
		switch c.FourCC {
		case FourCCALPH, FourCCVP8, FourCCVP8L:
			out = append(out, c)
		}
	}
	if !hasChunk(out, FourCCVP8) && !hasChunk(out, FourCCVP8L) {
		return nil, ErrNoImageChunk
	}
	return out, nil
}

// Still wraps the bitstream chunks of one frame as a standalone WebP file so a
// regular decoder can read it.
func Still(f Frame) []byte {
	var body bytes.Buffer
	body.WriteString("WEBP")

	if hasChunk(f.Chunks, FourCCALPH) {
		vp8x := make([]byte, 10)
		vp8x[0] = flagAlpha
		putUint24(vp8x[4:7], uint32(f.Width-1))
		putUint24(vp8x[7:10], uint32(f.Height-1))
		writeChunk(&body, FourCCVP8X, vp8x)
	}
	for _, c := range f.Chunks {
		writeChunk(&body, c.FourCC, c.Data)
	}

	out := make([]byte, 8, 8+body.Len())
	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(body.Len()))
	return append(out, body.Bytes()...)
}

func splitChunks(data []byte) ([]Chunk, error) {
	var chunks []Chunk
	for len(data) > 0 {
		if len(data) < 8 {
			return nil, ErrTruncated
		}
		fourcc := string(data[0:4])
		size := int(binary.LittleEndian.Uint32(data[4:8]))
		if size < 0 || 8+size > len(data) {
			return nil, ErrTruncated
		}
		chunks = append(chunks, Chunk{FourCC: fourcc, Data: data[8 : 8+size]})
		next := 8 + size + size&1
		if next > len(data) {
			next = len(data)
		}
		data = data[next:]
	}
	return chunks, nil
}

func writeChunk(buf *bytes.Buffer, fourcc string, data []byte) {
	var header [8]byte
	copy(header[0:4], fourcc)
	binary.LittleEndian.PutUint32(header[4:8], uint32(len(data)))
	buf.Write(header[:])
	buf.Write(data)
	if len(data)&1 == 1 {
		buf.WriteByte(0)
	}
}

func hasChunk(chunks []Chunk, fourcc string) bool {
	for _, c := range chunks {
		if c.FourCC == fourcc {
			return true
		}
	}
	return false
}

func putUint24(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
}

func uint24(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16
}
