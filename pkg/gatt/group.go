package gatt

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/AngelSensor/angel-sdk/internal/log"
)

// GroupCharacteristics turns the flat attribute list of one service into characteristics.
//
// Attributes are walked from the highest handle down. Each characteristic declaration closes a
// group holding itself and every attribute above it, up to the previous declaration. The
// attribute directly after the declaration is the value; its type is the characteristic's type.
// A group without a value attribute is skipped. Attributes below the first declaration, such as
// the service declaration itself, are discarded.
//
// The result is sorted by declaration handle. descriptors is not modified.
func GroupCharacteristics(descriptors []*Descriptor) []*Characteristic {
	sorted := slices.Clone(descriptors)
	slices.SortFunc(sorted, func(a, b *Descriptor) int {
		return cmp.Compare(b.Handle, a.Handle)
	})

	var characteristics []*Characteristic
	var group []*Descriptor
	for _, d := range sorted {
		group = append(group, d)
		if !d.UUID.Equal(CharacteristicUUID) {
			continue
		}
		c, err := newCharacteristic(group)
		group = nil
		if err != nil {
			log.Warning("Skipping characteristic: %s", err)
			continue
		}
		characteristics = append(characteristics, c)
	}
	if len(group) > 0 {
		log.Debug("Discarding %d attributes that precede the first characteristic", len(group))
	}
	slices.Reverse(characteristics)
	return characteristics
}

// newCharacteristic builds a characteristic from a group in descending handle order, ending with
// its declaration.
func newCharacteristic(group []*Descriptor) (*Characteristic, error) {
	declaration := group[len(group)-1]
	c := &Characteristic{
		ValueHandle: declaration.Handle + 1,
		Descriptors: slices.Clone(group),
	}
	slices.Reverse(c.Descriptors)
	for _, d := range c.Descriptors {
		if d.Handle == c.ValueHandle {
			c.UUID = d.UUID
			break
		}
	}
	if c.UUID == nil {
		return nil, fmt.Errorf("declaration at handle %d has no value attribute", declaration.Handle)
	}
	return c, nil
}
