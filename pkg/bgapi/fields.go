package bgapi

import (
	"encoding/binary"
	"fmt"
	"net"
)

// Uint16 decodes a little-endian integer from the first two bytes of b.
func Uint16(b []byte) uint16 {
	return binary.LittleEndian.Uint16(b)
}

// PutUint16 encodes v into the first two bytes of b.
func PutUint16(b []byte, v uint16) {
	binary.LittleEndian.PutUint16(b, v)
}

// AppendUint16 appends the little-endian encoding of v to dst.
func AppendUint16(dst []byte, v uint16) []byte {
	return binary.LittleEndian.AppendUint16(dst, v)
}

// AppendArray appends a length-prefixed byte array. Arrays longer than 255 bytes produce a payload
// that Encode rejects.
func AppendArray(dst, data []byte) []byte {
	dst = append(dst, byte(len(data)))
	return append(dst, data...)
}

// ReadArray decodes a length-prefixed array that occupies all of b.
func ReadArray(b []byte) ([]byte, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: missing length prefix", ErrLengthMismatch)
	}
	if int(b[0]) != len(b)-1 {
		return nil, fmt.Errorf("%w: declared %d, have %d", ErrLengthMismatch, b[0], len(b)-1)
	}
	data := make([]byte, len(b)-1)
	copy(data, b[1:])
	return data, nil
}

// AddressLength is the size of a Bluetooth device address.
const AddressLength = 6

// Address is a Bluetooth device address in wire order (least significant byte first).
type Address [AddressLength]byte

// ParseAddress parses the conventional display form, e.g. "00:07:80:AB:CD:EF".
func ParseAddress(s string) (Address, error) {
	var addr Address
	mac, err := net.ParseMAC(s)
	if err != nil {
		return addr, err
	}
	if len(mac) != AddressLength {
		return addr, fmt.Errorf("invalid device address '%s'", s)
	}
	for i := range addr {
		addr[i] = mac[AddressLength-1-i]
	}
	return addr, nil
}

// String formats a in display order.
func (a Address) String() string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", a[5], a[4], a[3], a[2], a[1], a[0])
}

// MarshalText implements encoding.TextMarshaler.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
