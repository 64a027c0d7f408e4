package gatt

import (
	"errors"
	"fmt"

	"github.com/go-ble/ble"
)

var ErrUnknownAttribute = errors.New("unknown attribute")

// Descriptor is a single attribute: a handle and its type.
type Descriptor struct {
	UUID   ble.UUID
	Handle uint16
}

// Characteristic groups a declaration, the value attribute that follows it, and any further
// attributes up to the next declaration. Descriptors are sorted by handle and include both the
// declaration and the value attribute.
type Characteristic struct {
	UUID        ble.UUID
	ValueHandle uint16
	Descriptors []*Descriptor
}

// Declaration returns the handle of c's declaration attribute.
func (c *Characteristic) Declaration() uint16 {
	return c.ValueHandle - 1
}

// Descriptor returns the first descriptor of type u, or nil.
func (c *Characteristic) Descriptor(u ble.UUID) *Descriptor {
	for _, d := range c.Descriptors {
		if d.UUID.Equal(u) {
			return d
		}
	}
	return nil
}

type Service struct {
	UUID            ble.UUID
	Start, End      uint16
	Characteristics []*Characteristic
}

// Characteristic returns the first characteristic of type u, or nil.
func (s *Service) Characteristic(u ble.UUID) *Characteristic {
	for _, c := range s.Characteristics {
		if c.UUID.Equal(u) {
			return c
		}
	}
	return nil
}

// Contains returns true if handle lies in s's handle range.
func (s *Service) Contains(handle uint16) bool {
	return s.Start <= handle && handle <= s.End
}

// Table is a peripheral's attribute table. Services appear in discovery order. A Table is not
// modified after it is discovered or loaded and may be shared between goroutines.
type Table struct {
	Services []*Service
}

// Service returns the first service of type u, or nil.
func (t *Table) Service(u ble.UUID) *Service {
	for _, s := range t.Services {
		if s.UUID.Equal(u) {
			return s
		}
	}
	return nil
}

// Lookup resolves a service and characteristic by UUID string.
func (t *Table) Lookup(service, characteristic string) (*Service, *Characteristic, error) {
	serviceUUID, err := ParseUUID(service)
	if err != nil {
		return nil, nil, err
	}
	characteristicUUID, err := ParseUUID(characteristic)
	if err != nil {
		return nil, nil, err
	}
	s := t.Service(serviceUUID)
	if s == nil {
		return nil, nil, fmt.Errorf("%w: service %s", ErrUnknownAttribute, UUIDString(serviceUUID))
	}
	c := s.Characteristic(characteristicUUID)
	if c == nil {
		return s, nil, fmt.Errorf("%w: characteristic %s in service %s", ErrUnknownAttribute,
			UUIDString(characteristicUUID), UUIDString(serviceUUID))
	}
	return s, c, nil
}

// Handle returns the value handle of a characteristic.
func (t *Table) Handle(service, characteristic string) (uint16, error) {
	_, c, err := t.Lookup(service, characteristic)
	if err != nil {
		return 0, err
	}
	return c.ValueHandle, nil
}

// DescriptorHandle returns the handle of a characteristic's descriptor, such as "2902" for its
// client configuration.
func (t *Table) DescriptorHandle(service, characteristic, descriptor string) (uint16, error) {
	descriptorUUID, err := ParseUUID(descriptor)
	if err != nil {
		return 0, err
	}
	_, c, err := t.Lookup(service, characteristic)
	if err != nil {
		return 0, err
	}
	d := c.Descriptor(descriptorUUID)
	if d == nil {
		return 0, fmt.Errorf("%w: descriptor %s of characteristic %s", ErrUnknownAttribute,
			UUIDString(descriptorUUID), UUIDString(c.UUID))
	}
	return d.Handle, nil
}

// Characteristics returns the number of characteristics in t.
func (t *Table) Characteristics() int {
	n := 0
	for _, s := range t.Services {
		n += len(s.Characteristics)
	}
	return n
}
