package gatt_test

import (
	"github.com/go-ble/ble"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/AngelSensor/angel-sdk/pkg/gatt"
)

func descriptor(handle uint16, uuid uint16) *gatt.Descriptor {
	return &gatt.Descriptor{UUID: ble.UUID16(uuid), Handle: handle}
}

func handles(descriptors []*gatt.Descriptor) []uint16 {
	var h []uint16
	for _, d := range descriptors {
		h = append(h, d.Handle)
	}
	return h
}

var _ = Describe("GroupCharacteristics", func() {
	It("splits attributes at each declaration", func() {
		descriptors := []*gatt.Descriptor{
			descriptor(10, 0x2803),
			descriptor(11, 0x2A37),
			descriptor(12, 0x2902),
			descriptor(13, 0x2803),
			descriptor(14, 0x2A38),
		}
		characteristics := gatt.GroupCharacteristics(descriptors)
		Expect(characteristics).To(HaveLen(2))

		Expect(characteristics[0].UUID).To(Equal(ble.UUID16(0x2A37)))
		Expect(characteristics[0].ValueHandle).To(Equal(uint16(11)))
		Expect(characteristics[0].Declaration()).To(Equal(uint16(10)))
		Expect(handles(characteristics[0].Descriptors)).To(Equal([]uint16{10, 11, 12}))

		Expect(characteristics[1].UUID).To(Equal(ble.UUID16(0x2A38)))
		Expect(characteristics[1].ValueHandle).To(Equal(uint16(14)))
		Expect(handles(characteristics[1].Descriptors)).To(Equal([]uint16{13, 14}))
	})

	It("does not depend on input order", func() {
		descriptors := []*gatt.Descriptor{
			descriptor(14, 0x2A38),
			descriptor(11, 0x2A37),
			descriptor(13, 0x2803),
			descriptor(10, 0x2803),
			descriptor(12, 0x2902),
		}
		characteristics := gatt.GroupCharacteristics(descriptors)
		Expect(characteristics).To(HaveLen(2))
		Expect(characteristics[0].ValueHandle).To(Equal(uint16(11)))
		Expect(characteristics[1].ValueHandle).To(Equal(uint16(14)))
		Expect(handles(descriptors)).To(Equal([]uint16{14, 11, 13, 10, 12}))
	})

	It("discards attributes below the first declaration", func() {
		descriptors := []*gatt.Descriptor{
			descriptor(1, 0x2800),
			descriptor(2, 0x2803),
			descriptor(3, 0x2A00),
		}
		characteristics := gatt.GroupCharacteristics(descriptors)
		Expect(characteristics).To(HaveLen(1))
		Expect(handles(characteristics[0].Descriptors)).To(Equal([]uint16{2, 3}))
	})

	It("skips a declaration without a value attribute", func() {
		descriptors := []*gatt.Descriptor{
			descriptor(10, 0x2803),
			descriptor(12, 0x2902),
			descriptor(13, 0x2803),
			descriptor(14, 0x2A38),
		}
		characteristics := gatt.GroupCharacteristics(descriptors)
		Expect(characteristics).To(HaveLen(1))
		Expect(characteristics[0].ValueHandle).To(Equal(uint16(14)))
	})

	It("returns nothing for an empty service", func() {
		Expect(gatt.GroupCharacteristics(nil)).To(BeEmpty())
		Expect(gatt.GroupCharacteristics([]*gatt.Descriptor{descriptor(1, 0x2800)})).To(BeEmpty())
	})
})
