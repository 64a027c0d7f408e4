package gatt

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/go-ble/ble"
)

// Attribute types with a structural role in the table.
var (
	PrimaryServiceUUID             = ble.UUID16(0x2800)
	SecondaryServiceUUID           = ble.UUID16(0x2801)
	CharacteristicUUID             = ble.UUID16(0x2803)
	ClientCharacteristicConfigUUID = ble.UUID16(0x2902)
)

// UUIDString formats u most-significant byte first, as uppercase hex without dashes.
func UUIDString(u ble.UUID) string {
	return strings.ToUpper(hex.EncodeToString(ble.Reverse(u)))
}

// ParseUUID accepts 16 and 128-bit UUIDs in either case, with or without dashes.
func ParseUUID(s string) (ble.UUID, error) {
	u, err := ble.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("invalid UUID '%s': %w", s, err)
	}
	return u, nil
}
