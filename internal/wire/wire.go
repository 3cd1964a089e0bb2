// Package wire defines the on-wire constants and little-endian codecs shared
// by every layer of the transport: the segment header layout (spec §6), the
// framed-message header (spec §3), and the lobby registration/response
// frames (spec §4.6).
package wire

import "encoding/binary"

// Protocol constants (spec §3).
const (
	SharedMagic   uint32 = 1481853005
	SharedVersion uint32 = 65536

	// RingCapacity is the default per-direction ring size: 2 MiB, a power of two.
	RingCapacity uint32 = 2 * 1024 * 1024
	RingMask     uint32 = RingCapacity - 1

	// MaxMessagesLegacy and MaxMessagesDispatch are the two MAX_MESSAGES values
	// observed across header variants (spec §9 Open Questions). Callers pick one
	// through segment.Options.MaxMessages; the segment header does not record
	// the value, so both endpoints of a channel must be configured with the same one.
	MaxMessagesLegacy   uint32 = 250
	MaxMessagesDispatch uint32 = 500

	MaxMessageSize     uint32 = 65535
	MinMessageSize     uint32 = 1
	MessageHeaderSize  uint32 = 4

	RingMessageWrapSentinel uint32 = 0
)

// Handshake states (spec §3, §4.4).
const (
	HandshakeIdle        uint32 = 0
	HandshakeClientHello uint32 = 1
	HandshakeServerReady uint32 = 2
)

// Dispatch/lobby constants (spec §3, §4.6).
const (
	ReservedSlotIDIndex = 0
	SlotIDNoSlot  uint32 = 0xFFFFFFFF
	StatusOK      uint32 = 0
	StatusRejected uint32 = 1

	DefaultMaxClientsDispatch uint32 = 20
	DefaultMaxClientsMulti    uint32 = 10

	// MaxRegistrationName bounds the registration frame's name field, per
	// spec §4.6 step 2 ("suggest 256").
	MaxRegistrationName = 256
)

// HeaderLayout mirrors spec §6's byte table.
const (
	OffMagic      = 0
	OffVersion    = 4
	OffCreatorPID = 8
	OffFlags      = 12
	OffHandshake  = 16
	OffS2CDesc    = 20
	OffC2SDesc    = 36
	OffReserved   = 52
	ReservedWords = 8
	HeaderSize    = 84 // 52 + 8*4
)

// RingDescriptor offsets within its 16-byte block.
const (
	DescWriteIndex   = 0
	DescReadIndex    = 4
	DescMessageCount = 8
	DescDroppedCount = 12
	DescSize         = 16
)

// PutU32 / GetU32 are little-endian helpers used throughout the transport.
func PutU32(b []byte, v uint32) { binary.LittleEndian.PutUint32(b, v) }
func GetU32(b []byte) uint32    { return binary.LittleEndian.Uint32(b) }

func PutU16(b []byte, v uint16) { binary.LittleEndian.PutUint16(b, v) }
func GetU16(b []byte) uint16    { return binary.LittleEndian.Uint16(b) }

// EncodeFrameHeader writes the 4-byte length header. Only the low 16 bits
// are meaningful; the wrap sentinel is the all-zero header.
func EncodeFrameHeader(b []byte, length uint32) { PutU32(b, length) }

// DecodeFrameHeader reads the 4-byte length header.
func DecodeFrameHeader(b []byte) uint32 { return GetU32(b) }

// RegistrationFrame is the dispatch lobby's client->server frame (spec §4.6
// step 2): u32 pid, u16 revision, u16 name_len, bytes name.
type RegistrationFrame struct {
	PID      uint32
	Revision uint16
	Name     string
}

// Encode serializes the registration frame. A name longer than
// MaxRegistrationName bytes is truncated to that length.
func (r RegistrationFrame) Encode() []byte {
	name := []byte(r.Name)
	if len(name) > MaxRegistrationName {
		name = name[:MaxRegistrationName]
	}
	buf := make([]byte, 8+len(name))
	PutU32(buf[0:4], r.PID)
	PutU16(buf[4:6], r.Revision)
	PutU16(buf[6:8], uint16(len(name)))
	copy(buf[8:], name)
	return buf
}

// DecodeRegistrationFrame parses a registration frame, or reports ok=false
// if the buffer is short or the declared name length doesn't fit.
func DecodeRegistrationFrame(b []byte) (r RegistrationFrame, ok bool) {
	if len(b) < 8 {
		return r, false
	}
	pid := GetU32(b[0:4])
	rev := GetU16(b[4:6])
	nameLen := int(GetU16(b[6:8]))
	if nameLen > MaxRegistrationName || 8+nameLen > len(b) {
		return r, false
	}
	return RegistrationFrame{PID: pid, Revision: rev, Name: string(b[8 : 8+nameLen])}, true
}

// LobbyResponse is the dispatch/multi lobby's server->client reply (spec
// §4.6 step 3): u32 slot_id, u32 status.
type LobbyResponse struct {
	SlotID uint32
	Status uint32
}

func (r LobbyResponse) Encode() []byte {
	buf := make([]byte, 8)
	PutU32(buf[0:4], r.SlotID)
	PutU32(buf[4:8], r.Status)
	return buf
}

func DecodeLobbyResponse(b []byte) (r LobbyResponse, ok bool) {
	if len(b) < 8 {
		return r, false
	}
	return LobbyResponse{SlotID: GetU32(b[0:4]), Status: GetU32(b[4:8])}, true
}
