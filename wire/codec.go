package wire

import (
	"encoding/binary"
	"errors"
	"math"
)

var (
	// ErrUnknownType reports a type tag at or above the reserved range.
	ErrUnknownType = errors.New("wire: unknown message type")

	// ErrChecksum reports a frame whose bytes do not sum to 0xFF.
	ErrChecksum = errors.New("wire: checksum mismatch")

	// ErrShortFrame reports a buffer smaller than the frame the type (and,
	// for Burst, the length field) demands.
	ErrShortFrame = errors.New("wire: short frame")

	// ErrTooLong reports a Burst payload that does not fit in a uint16 length
	// field.
	ErrTooLong = errors.New("wire: burst payload too long")
)

const (
	fixedHeaderAndChecksum = 2 // type byte + checksum byte, no payload
	burstHeaderLen         = 1 /*type*/ + 2 /*length*/ + 1 /*chunk id*/
)

// FrameLen returns the total on-wire length of a frame of type t. For
// ComputeDataBurst, burstLen is the 16-bit length field read from the
// wire (or, when encoding, the number of iteration-count bytes); for every
// other type burstLen is ignored.
func FrameLen(t Type, burstLen uint16) (int, error) {
	switch t {
	case OK, Error, Abort, Done, GetVersion, Quit:
		return fixedHeaderAndChecksum, nil
	case Startup:
		return fixedHeaderAndChecksum + StartupMsgLen, nil
	case Version:
		return fixedHeaderAndChecksum + 3, nil
	case SetCompute:
		return fixedHeaderAndChecksum + 4*8 + 1, nil
	case Compute:
		return fixedHeaderAndChecksum + 1 + 2*8 + 2, nil
	case ComputeData:
		return fixedHeaderAndChecksum + 4, nil
	case ComputeDataBurst:
		return burstHeaderLen + int(burstLen) + 1, nil
	default:
		return 0, ErrUnknownType
	}
}

// Encode serialises msg into a freshly allocated frame, appending the
// checksum byte so the unsigned 8-bit sum of every frame byte is 0xFF.
func Encode(msg Message) ([]byte, error) {
	if !msg.Type.valid() {
		return nil, ErrUnknownType
	}

	var burstLen uint16
	if msg.Type == ComputeDataBurst {
		if len(msg.ComputeDataBurst.Iters) > 0xFFFF {
			return nil, ErrTooLong
		}
		burstLen = uint16(len(msg.ComputeDataBurst.Iters))
	}

	n, err := FrameLen(msg.Type, burstLen)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	buf[0] = byte(msg.Type)

	switch msg.Type {
	case OK, Error, Abort, Done, GetVersion, Quit:
		// no payload

	case Startup:
		putStartup(buf[1:1+StartupMsgLen], msg.Startup)

	case Version:
		buf[1] = msg.Version.Major
		buf[2] = msg.Version.Minor
		buf[3] = msg.Version.Patch

	case SetCompute:
		p := buf[1:]
		putFloat64(p[0:8], msg.SetCompute.CRe)
		putFloat64(p[8:16], msg.SetCompute.CIm)
		putFloat64(p[16:24], msg.SetCompute.DRe)
		putFloat64(p[24:32], msg.SetCompute.DIm)
		p[32] = msg.SetCompute.N

	case Compute:
		p := buf[1:]
		p[0] = msg.Compute.ChunkID
		putFloat64(p[1:9], msg.Compute.Re)
		putFloat64(p[9:17], msg.Compute.Im)
		p[17] = msg.Compute.NRe
		p[18] = msg.Compute.NIm

	case ComputeData:
		p := buf[1:]
		p[0] = msg.ComputeData.ChunkID
		p[1] = msg.ComputeData.IRe
		p[2] = msg.ComputeData.IIm
		p[3] = msg.ComputeData.Iter

	case ComputeDataBurst:
		binary.LittleEndian.PutUint16(buf[1:3], burstLen)
		buf[3] = msg.ComputeDataBurst.ChunkID
		copy(buf[4:4+burstLen], msg.ComputeDataBurst.Iters)
	}

	last := len(buf) - 1
	var sum uint8
	for _, b := range buf[:last] {
		sum += b
	}
	buf[last] = 0xFF - sum
	return buf, nil
}

// Decode parses exactly one frame (buf must be sized to FrameLen for its
// type, e.g. via PeekBurstLen for Burst) into a Message. It verifies the
// checksum before interpreting the payload; a failing checksum leaves msg
// unspecified and returns ErrChecksum so the caller discards the frame.
func Decode(buf []byte) (Message, error) {
	var msg Message
	if len(buf) < fixedHeaderAndChecksum {
		return msg, ErrShortFrame
	}

	var sum uint8
	for _, b := range buf {
		sum += b
	}
	if sum != 0xFF {
		return msg, ErrChecksum
	}

	t := Type(buf[0])
	if !t.valid() {
		return msg, ErrUnknownType
	}
	msg.Type = t

	var burstLen uint16
	if t == ComputeDataBurst {
		if len(buf) < burstHeaderLen+1 {
			return msg, ErrShortFrame
		}
		burstLen = binary.LittleEndian.Uint16(buf[1:3])
	}

	want, err := FrameLen(t, burstLen)
	if err != nil {
		return msg, err
	}
	if len(buf) != want {
		return msg, ErrShortFrame
	}

	switch t {
	case OK, Error, Abort, Done, GetVersion, Quit:
		// no payload

	case Startup:
		msg.Startup = getStartup(buf[1 : 1+StartupMsgLen])

	case Version:
		msg.Version = VersionPayload{Major: buf[1], Minor: buf[2], Patch: buf[3]}

	case SetCompute:
		p := buf[1:]
		msg.SetCompute = SetComputePayload{
			CRe: getFloat64(p[0:8]),
			CIm: getFloat64(p[8:16]),
			DRe: getFloat64(p[16:24]),
			DIm: getFloat64(p[24:32]),
			N:   p[32],
		}

	case Compute:
		p := buf[1:]
		msg.Compute = ComputePayload{
			ChunkID: p[0],
			Re:      getFloat64(p[1:9]),
			Im:      getFloat64(p[9:17]),
			NRe:     p[17],
			NIm:     p[18],
		}

	case ComputeData:
		p := buf[1:]
		msg.ComputeData = ComputeDataPayload{ChunkID: p[0], IRe: p[1], IIm: p[2], Iter: p[3]}

	case ComputeDataBurst:
		iters := make([]uint8, burstLen)
		copy(iters, buf[4:4+burstLen])
		msg.ComputeDataBurst = ComputeDataBurstPayload{ChunkID: buf[3], Iters: iters}
	}

	return msg, nil
}

// PeekBurstLen extracts the 16-bit length field from the first 3 bytes of
// a ComputeDataBurst frame (typeAndLen[0]==type, typeAndLen[1:3]==length),
// as read off the wire before the rest of the frame is
// available. Callers use this to size their read buffer before the payload
// has arrived.
func PeekBurstLen(typeAndLen []byte) (uint16, error) {
	if len(typeAndLen) < 3 {
		return 0, ErrShortFrame
	}
	return binary.LittleEndian.Uint16(typeAndLen[1:3]), nil
}

func putFloat64(dst []byte, v float64) {
	binary.LittleEndian.PutUint64(dst, math.Float64bits(v))
}

func getFloat64(src []byte) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(src))
}

func putStartup(dst []byte, p StartupPayload) {
	for i := range dst {
		dst[i] = 0
	}
	n := copy(dst, p.Identifier)
	if n >= len(dst) {
		n = len(dst) - 1
	}
	dst[n] = 0 // NUL terminator
	if n+1 < len(dst) {
		dst[n+1] = p.WorkerCount
	}
}

func getStartup(src []byte) StartupPayload {
	nul := len(src)
	for i, b := range src {
		if b == 0 {
			nul = i
			break
		}
	}
	p := StartupPayload{Identifier: string(src[:nul])}
	if nul+1 < len(src) {
		p.WorkerCount = src[nul+1]
	}
	return p
}
