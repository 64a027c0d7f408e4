package gatt_test

import (
	"context"
	"errors"

	"github.com/go-ble/ble"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/AngelSensor/angel-sdk/pkg/gatt"
)

// fakeEnumerator serves a fixed set of groups and attributes.
type fakeEnumerator struct {
	groups      []gatt.Group
	descriptors []*gatt.Descriptor
	ranges      [][2]uint16
	failAt      uint16
}

var errEnumeration = errors.New("enumeration failed")

func (f *fakeEnumerator) ReadByGroupType(ctx context.Context, start, end uint16, groupType ble.UUID) ([]gatt.Group, error) {
	Expect(groupType).To(Equal(gatt.PrimaryServiceUUID))
	Expect(start).To(Equal(uint16(1)))
	Expect(end).To(Equal(uint16(0xFFFF)))
	return f.groups, nil
}

func (f *fakeEnumerator) FindInformation(ctx context.Context, start, end uint16) ([]*gatt.Descriptor, error) {
	f.ranges = append(f.ranges, [2]uint16{start, end})
	if start == f.failAt {
		return nil, errEnumeration
	}
	var found []*gatt.Descriptor
	for _, d := range f.descriptors {
		if start <= d.Handle && d.Handle <= end {
			found = append(found, d)
		}
	}
	return found, nil
}

var _ = Describe("Discover", func() {
	var e *fakeEnumerator

	BeforeEach(func() {
		e = &fakeEnumerator{
			groups: []gatt.Group{
				{Start: 1, End: 5, UUID: ble.UUID16(0x1800)},
				{Start: 6, End: 9, UUID: ble.UUID16(0x180D)},
			},
			descriptors: []*gatt.Descriptor{
				descriptor(1, 0x2800),
				descriptor(2, 0x2803),
				descriptor(3, 0x2A00),
				descriptor(6, 0x2800),
				descriptor(7, 0x2803),
				descriptor(8, 0x2A37),
				descriptor(9, 0x2902),
			},
		}
	})

	It("enumerates each service's range", func() {
		table, err := gatt.Discover(context.Background(), e)
		Expect(err).ToNot(HaveOccurred())
		Expect(e.ranges).To(Equal([][2]uint16{{1, 5}, {6, 9}}))
		Expect(table.Services).To(HaveLen(2))
		Expect(table.Services[0].UUID).To(Equal(ble.UUID16(0x1800)))
		Expect(table.Services[1].Characteristics).To(HaveLen(1))

		handle, err := table.DescriptorHandle("180D", "2A37", "2902")
		Expect(err).ToNot(HaveOccurred())
		Expect(handle).To(Equal(uint16(9)))
	})

	It("stops at the first failed service", func() {
		e.failAt = 6
		_, err := gatt.Discover(context.Background(), e)
		Expect(errors.Is(err, errEnumeration)).To(BeTrue())
	})

	It("accepts a peripheral without services", func() {
		e.groups = nil
		table, err := gatt.Discover(context.Background(), e)
		Expect(err).ToNot(HaveOccurred())
		Expect(table.Services).To(BeEmpty())
	})
})
