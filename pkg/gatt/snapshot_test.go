package gatt_test

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-ble/ble"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/AngelSensor/angel-sdk/internal/dongletest"
	"github.com/AngelSensor/angel-sdk/pkg/bgapi"
	"github.com/AngelSensor/angel-sdk/pkg/gatt"
	"github.com/AngelSensor/angel-sdk/pkg/peripheral"
)

const heartRateSnapshot = `service uuid 1800 start 1 end 11
    char 2A00
        desc 2803 2
        desc 2A00 3
    char 2A01
        desc 2803 4
        desc 2A01 5
service uuid 180D start 12 end 19
    char 2A37
        desc 2803 13
        desc 2A37 14
        desc 2902 15
    char 2A38
        desc 2803 16
        desc 2A38 17
    char 2A39
        desc 2803 18
        desc 2A39 19
service uuid 180F start 20 end 23
    char 2A19
        desc 2803 21
        desc 2A19 22
        desc 2902 23
`

func discoverHeartRateSensor() *gatt.Table {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	address, err := bgapi.ParseAddress("00:07:80:AB:CD:EF")
	Expect(err).ToNot(HaveOccurred())
	p := peripheral.New(dongletest.HeartRateSensor(), address)
	Expect(p.Start(ctx)).To(Succeed())
	defer p.Close()
	Expect(p.Connect(ctx)).To(Succeed())

	table, err := p.Discover(ctx)
	Expect(err).ToNot(HaveOccurred())
	return table
}

var _ = Describe("Snapshot", func() {
	It("round-trips a discovered table", func() {
		table := discoverHeartRateSensor()

		var buf bytes.Buffer
		Expect(gatt.Save(&buf, table)).To(Succeed())
		Expect(buf.String()).To(Equal(heartRateSnapshot))

		loaded, err := gatt.Load(&buf)
		Expect(err).ToNot(HaveOccurred())
		Expect(loaded).To(Equal(table))
	})

	It("round-trips through a file", func() {
		table := testTable()
		filename := filepath.Join(GinkgoT().TempDir(), "table.txt")
		Expect(gatt.SaveFile(filename, table)).To(Succeed())
		loaded, err := gatt.LoadFile(filename)
		Expect(err).ToNot(HaveOccurred())
		Expect(loaded).To(Equal(table))
	})

	It("implements encoding.TextMarshaler", func() {
		text, err := testTable().MarshalText()
		Expect(err).ToNot(HaveOccurred())
		var table gatt.Table
		Expect(table.UnmarshalText(text)).To(Succeed())
		Expect(&table).To(Equal(testTable()))
	})

	It("tolerates indentation, trailing whitespace and blank lines", func() {
		text := "\n  service uuid 180d start 12 end 15  \n\nchar 2a37\t\n desc 2803 13\n\tdesc 2A37 14 \n"
		table, err := gatt.Load(strings.NewReader(text))
		Expect(err).ToNot(HaveOccurred())
		Expect(table.Services).To(HaveLen(1))
		handle, err := table.Handle("180D", "2A37")
		Expect(err).ToNot(HaveOccurred())
		Expect(handle).To(Equal(uint16(14)))
	})

	It("loads an empty snapshot", func() {
		table, err := gatt.Load(strings.NewReader(""))
		Expect(err).ToNot(HaveOccurred())
		Expect(table.Services).To(BeEmpty())
	})

	DescribeTable("rejects malformed snapshots",
		func(text string, line string) {
			_, err := gatt.Load(strings.NewReader(text))
			Expect(errors.Is(err, gatt.ErrMalformedSnapshot)).To(BeTrue())
			Expect(err.Error()).To(ContainSubstring(line))
		},
		Entry("unknown keyword", "service uuid 1800 start 1 end 5\nfoo bar\n", "line 2"),
		Entry("char before service", "char 2A00\n", "line 1"),
		Entry("desc before char", "service uuid 1800 start 1 end 5\ndesc 2803 2\n", "line 2"),
		Entry("missing declaration", "service uuid 1800 start 1 end 5\nchar 2A00\ndesc 2A00 3\n", "line 2"),
		Entry("missing value", "service uuid 1800 start 1 end 5\nchar 2A00\ndesc 2803 2\ndesc 2902 4\n", "line 2"),
		Entry("mismatched value", "service uuid 1800 start 1 end 5\nchar 2A00\ndesc 2803 2\ndesc 2A01 3\n", "line 2"),
		Entry("bad handle", "service uuid 1800 start one end 5\n", "line 1"),
		Entry("bad UUID", "service uuid 18000 start 1 end 5\n", "line 1"),
		Entry("32-bit UUID", "service uuid 0000180D start 1 end 5\n", "line 1"),
		Entry("handle outside service", "service uuid 1800 start 1 end 5\nchar 2A00\ndesc 2803 6\n", "line 3"),
		Entry("truncated service line", "service uuid 1800 start 1\n", "line 1"),
	)

	It("preserves 128-bit UUIDs", func() {
		custom := ble.MustParse("34DA3AD1-7110-41A1-B1EF-4430F509CDE7")
		table := &gatt.Table{Services: []*gatt.Service{{UUID: custom, Start: 1, End: 1}}}
		text, err := table.MarshalText()
		Expect(err).ToNot(HaveOccurred())
		Expect(string(text)).To(Equal("service uuid 34DA3AD1711041A1B1EF4430F509CDE7 start 1 end 1\n"))
	})
})
