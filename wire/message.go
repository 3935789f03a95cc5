// Package wire implements the length-deterministic, checksummed message
// codec shared by the Controller and the Compute Module.
//
// Wire format: [type:1][payload:variable][checksum:1]. Frame length is a
// deterministic function of type (and, for Burst, of the 16-bit length
// field that immediately follows the type byte). All multi-byte numeric
// fields are little-endian, fixed explicitly for cross-platform interop
// (the reference implementation used host-layout memcpy; this port pins
// the byte order instead of inheriting the host's).
package wire

// Type is the one-byte tag identifying a Message variant.
type Type uint8

// Type tag registry. Values follow declaration order (iota), and that
// order is chosen rather than copied from the spec's prose listing,
// because the wire-compat worked example in the spec
// (GetVersion round trip, frame bytes 04 01 02 03 F5) fixes Version at 4.
// See DESIGN.md for the resolution of this ordering.
const (
	OK Type = iota
	Error
	Abort
	Done
	Version
	GetVersion
	Quit
	Startup
	SetCompute
	Compute
	ComputeData
	ComputeDataBurst

	nbr // count of known types; tags >= nbr are reserved and rejected
)

func (t Type) String() string {
	switch t {
	case OK:
		return "OK"
	case Error:
		return "Error"
	case Abort:
		return "Abort"
	case Done:
		return "Done"
	case Version:
		return "Version"
	case GetVersion:
		return "GetVersion"
	case Quit:
		return "Quit"
	case Startup:
		return "Startup"
	case SetCompute:
		return "SetCompute"
	case Compute:
		return "Compute"
	case ComputeData:
		return "ComputeData"
	case ComputeDataBurst:
		return "ComputeDataBurst"
	default:
		return "Unknown"
	}
}

func (t Type) valid() bool { return t < nbr }

// StartupMsgLen is the size of the fixed-width Startup payload block: a
// NUL-terminated identifier followed by the worker count in the byte
// immediately after the NUL.
const StartupMsgLen = 32

// StartupPayload carries the Module's identifier and worker count. The
// <identifier>\0<worker_count> layout is preserved byte-for-byte for
// compatibility with peers that only understand the raw block.
type StartupPayload struct {
	Identifier  string
	WorkerCount uint8
}

// VersionPayload reports the Module's protocol version.
type VersionPayload struct {
	Major, Minor, Patch uint8
}

// SetComputePayload installs the global recursive-equation constant (C),
// the per-pixel step (D), and the iteration cap (N) for all subsequent
// Compute requests.
type SetComputePayload struct {
	CRe, CIm float64
	DRe, DIm float64
	N        uint8
}

// ComputePayload requests the computation of one chunk: its lower-left
// complex origin and its pixel dimensions.
type ComputePayload struct {
	ChunkID  uint8
	Re, Im   float64
	NRe, NIm uint8
}

// ComputeDataPayload is a single-pixel result (unused by the streaming
// path, which uses ComputeDataBurst, but kept as a distinct wire type per
// the registry; see DESIGN.md).
type ComputeDataPayload struct {
	ChunkID        uint8
	IRe, IIm, Iter uint8
}

// ComputeDataBurstPayload carries every iteration count of one chunk, in
// row-major, bottom-to-top order within the chunk. Iters is owned by
// whoever holds the Message value; Decode allocates a fresh slice per
// call, so no caller-side buffer lifetime management is needed (unlike
// the C original, where the receiver had to free() the iters pointer).
type ComputeDataBurstPayload struct {
	ChunkID uint8
	Iters   []uint8
}

// Message is a tagged union over the protocol's fixed set of variants.
// Only the field matching Type is meaningful; Go has no native union, and
// a flat struct mirrors the original's `msg->data.xxx` access pattern
// more directly than an interface{} per-variant payload would, while
// keeping Encode/Decode a single flat switch (see DESIGN.md).
type Message struct {
	Type Type

	Startup          StartupPayload
	Version          VersionPayload
	SetCompute       SetComputePayload
	Compute          ComputePayload
	ComputeData      ComputeDataPayload
	ComputeDataBurst ComputeDataBurstPayload
}
