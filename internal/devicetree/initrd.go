package devicetree

import (
	"encoding/binary"
	"fmt"
	"unsafe"
)

// initrdMagic is the 8-byte magic stamped at the start of an initrd header.
const initrdMagic = "UTKINIRD"

// initrdReservedByte fills InitrdHeader.Reserved; chosen to match the
// legacy packaging tool's filler value rather than zero, so a hex dump of a
// real blob and one produced here look identical.
const initrdReservedByte = 0xBE

// InitrdHeader is a layout-preserving encoding of the packaging format's
// initrd header. The core itself never reads an initrd — drivers and the
// device tree are assembled in memory by Boot's caller — so this type and
// its Marshal/Unmarshal pair exist solely so a future packaging tool has a
// single source of truth for the wire layout, the same role the teacher's
// uapi.UblksrvCtrlCmd plays for its control-plane wire structs.
type InitrdHeader struct {
	Magic    [8]byte
	Size     uint32
	Reserved [472]byte
}

// Compile-time size check, mirroring the teacher's uapi package convention.
var _ [484]byte = [unsafe.Sizeof(InitrdHeader{})]byte{}

// NewInitrdHeader returns a header with the magic and reserved filler set,
// and Size set to payloadSize.
func NewInitrdHeader(payloadSize uint32) InitrdHeader {
	var h InitrdHeader
	copy(h.Magic[:], initrdMagic)
	h.Size = payloadSize
	for i := range h.Reserved {
		h.Reserved[i] = initrdReservedByte
	}
	return h
}

// Marshal encodes the header in its wire layout: magic bytes, then Size as
// little-endian uint32, then the reserved bytes verbatim.
func (h InitrdHeader) Marshal() []byte {
	buf := make([]byte, unsafe.Sizeof(InitrdHeader{}))
	copy(buf[0:8], h.Magic[:])
	binary.LittleEndian.PutUint32(buf[8:12], h.Size)
	copy(buf[12:], h.Reserved[:])
	return buf
}

// Unmarshal decodes a header from its wire layout, validating the magic.
func Unmarshal(buf []byte) (InitrdHeader, error) {
	var h InitrdHeader
	want := int(unsafe.Sizeof(InitrdHeader{}))
	if len(buf) < want {
		return h, fmt.Errorf("devicetree: initrd header truncated: got %d bytes, want %d", len(buf), want)
	}
	copy(h.Magic[:], buf[0:8])
	if string(h.Magic[:]) != initrdMagic {
		return h, fmt.Errorf("devicetree: bad initrd magic %q", h.Magic[:])
	}
	h.Size = binary.LittleEndian.Uint32(buf[8:12])
	copy(h.Reserved[:], buf[12:want])
	return h, nil
}
