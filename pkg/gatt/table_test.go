package gatt_test

import (
	"errors"

	"github.com/go-ble/ble"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/AngelSensor/angel-sdk/pkg/gatt"
)

var customUUID = ble.MustParse("481d178c-10dd-11e4-b514-b2227cce2b54")

func testTable() *gatt.Table {
	return &gatt.Table{Services: []*gatt.Service{
		{
			UUID: ble.UUID16(0x180D), Start: 12, End: 15,
			Characteristics: []*gatt.Characteristic{{
				UUID: ble.UUID16(0x2A37), ValueHandle: 14,
				Descriptors: []*gatt.Descriptor{
					{UUID: gatt.CharacteristicUUID, Handle: 13},
					{UUID: ble.UUID16(0x2A37), Handle: 14},
					{UUID: gatt.ClientCharacteristicConfigUUID, Handle: 15},
				},
			}},
		},
		{
			UUID: customUUID, Start: 30, End: 32,
			Characteristics: []*gatt.Characteristic{{
				UUID: customUUID, ValueHandle: 32,
				Descriptors: []*gatt.Descriptor{
					{UUID: gatt.CharacteristicUUID, Handle: 31},
					{UUID: customUUID, Handle: 32},
				},
			}},
		},
	}}
}

var _ = Describe("Table", func() {
	var table *gatt.Table

	BeforeEach(func() {
		table = testTable()
	})

	Describe("Handle", func() {
		It("resolves a value handle", func() {
			handle, err := table.Handle("180D", "2A37")
			Expect(err).ToNot(HaveOccurred())
			Expect(handle).To(Equal(uint16(14)))
		})

		It("ignores case and dashes", func() {
			handle, err := table.Handle("481D178C10DD11E4B514B2227CCE2B54", "481d178c-10dd-11e4-b514-b2227cce2b54")
			Expect(err).ToNot(HaveOccurred())
			Expect(handle).To(Equal(uint16(32)))
		})

		It("reports an unknown service", func() {
			_, err := table.Handle("180F", "2A19")
			Expect(errors.Is(err, gatt.ErrUnknownAttribute)).To(BeTrue())
		})

		It("reports an unknown characteristic", func() {
			_, err := table.Handle("180D", "2A38")
			Expect(errors.Is(err, gatt.ErrUnknownAttribute)).To(BeTrue())
		})

		It("rejects malformed UUIDs", func() {
			_, err := table.Handle("18O", "2A37")
			Expect(err).To(HaveOccurred())
			Expect(errors.Is(err, gatt.ErrUnknownAttribute)).To(BeFalse())
		})
	})

	Describe("DescriptorHandle", func() {
		It("resolves the client configuration", func() {
			handle, err := table.DescriptorHandle("180d", "2a37", "2902")
			Expect(err).ToNot(HaveOccurred())
			Expect(handle).To(Equal(uint16(15)))
		})

		It("reports a missing descriptor", func() {
			_, err := table.DescriptorHandle("481D178C10DD11E4B514B2227CCE2B54", "481D178C10DD11E4B514B2227CCE2B54", "2902")
			Expect(errors.Is(err, gatt.ErrUnknownAttribute)).To(BeTrue())
		})
	})

	It("formats UUIDs in display order", func() {
		Expect(gatt.UUIDString(ble.UUID16(0x2800))).To(Equal("2800"))
		Expect(gatt.UUIDString(customUUID)).To(Equal("481D178C10DD11E4B514B2227CCE2B54"))
	})

	It("counts characteristics", func() {
		Expect(table.Characteristics()).To(Equal(2))
	})
})
