package peripheral_test

import (
	"context"
	"errors"
	"time"

	"github.com/go-ble/ble"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/AngelSensor/angel-sdk/internal/dongletest"
	"github.com/AngelSensor/angel-sdk/pkg/bgapi"
	"github.com/AngelSensor/angel-sdk/pkg/cache"
	"github.com/AngelSensor/angel-sdk/pkg/peripheral"
	"github.com/AngelSensor/angel-sdk/pkg/protocol"
)

const sensorAddress = "00:07:80:AB:CD:EF"

var _ = Describe("Peripheral", func() {
	var (
		ctx    context.Context
		cancel context.CancelFunc
		dongle *dongletest.Dongle
		p      *peripheral.Peripheral
	)

	BeforeEach(func() {
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		address, err := bgapi.ParseAddress(sensorAddress)
		Expect(err).ToNot(HaveOccurred())
		dongle = dongletest.HeartRateSensor()
		p = peripheral.New(dongle, address)
		p.SetTimeouts(100*time.Millisecond, 200*time.Millisecond)
		Expect(p.Start(ctx)).To(Succeed())
	})

	AfterEach(func() {
		Expect(p.Close()).To(Succeed())
		cancel()
	})

	Describe("without a connection", func() {
		It("rejects attribute procedures", func() {
			_, err := p.Read(ctx, 14)
			Expect(err).To(MatchError(protocol.ErrNotConnected))
			Expect(p.Write(ctx, 14, []byte{1})).To(MatchError(protocol.ErrNotConnected))
			_, err = p.RSSI(ctx)
			Expect(err).To(MatchError(protocol.ErrNotConnected))
			Expect(dongle.Commands()).To(BeEmpty())
		})

		It("needs a table to resolve handles", func() {
			_, err := p.Handle("180D", "2A37")
			Expect(err).To(MatchError(peripheral.ErrNoTable))
		})

		It("talks to the dongle", func() {
			Expect(p.Hello(ctx)).To(Succeed())

			info, err := p.GetInfo(ctx)
			Expect(err).ToNot(HaveOccurred())
			Expect(info).To(Equal(dongle.Info))

			n, err := p.MaxConnections(ctx)
			Expect(err).ToNot(HaveOccurred())
			Expect(n).To(Equal(uint8(3)))
		})

		It("reports a hung dongle as a local timeout", func() {
			dongle.SetMute(true)
			err := p.Hello(ctx)
			Expect(errors.Is(err, protocol.ErrLocalTimeout)).To(BeTrue())
			Expect(protocol.MayHaveSucceeded(err)).To(BeTrue())
		})
	})

	Describe("Connect", func() {
		It("records the dongle's connection id", func() {
			Expect(p.Connect(ctx)).To(Succeed())
			id, ok := p.ID()
			Expect(ok).To(BeTrue())
			Expect(id).To(Equal(uint8(2)))
			Expect(dongle.Connected()).To(BeTrue())
		})

		It("refuses a second connection", func() {
			Expect(p.Connect(ctx)).To(Succeed())
			Expect(p.Connect(ctx)).To(MatchError(protocol.ErrAlreadyConnected))
			Expect(dongle.Count(bgapi.IDConnectDirect)).To(Equal(1))
		})

		It("times out when the peripheral never answers", func() {
			dongle.SetDeaf(true)
			err := p.Connect(ctx)
			Expect(errors.Is(err, protocol.ErrRemoteTimeout)).To(BeTrue())
			_, ok := p.ID()
			Expect(ok).To(BeFalse())
		})
	})

	Describe("with a connection", func() {
		BeforeEach(func() {
			Expect(p.Connect(ctx)).To(Succeed())
		})

		It("disconnects", func() {
			Expect(p.Disconnect(ctx)).To(Succeed())
			_, ok := p.ID()
			Expect(ok).To(BeFalse())
			Expect(dongle.Connected()).To(BeFalse())
		})

		It("notices when the link drops", func() {
			dongle.DropConnection(0x0208)
			Eventually(func() bool {
				_, ok := p.ID()
				return ok
			}).Should(BeFalse())
		})

		It("forgets the connection when the dongle restarts", func() {
			Expect(p.Reset(ctx)).To(Succeed())
			_, ok := p.ID()
			Expect(ok).To(BeFalse())
		})

		It("reads the signal strength", func() {
			rssi, err := p.RSSI(ctx)
			Expect(err).ToNot(HaveOccurred())
			Expect(rssi).To(Equal(int8(-60)))
		})

		It("discovers the attribute table", func() {
			table, err := p.Discover(ctx)
			Expect(err).ToNot(HaveOccurred())
			Expect(table.Services).To(HaveLen(3))
			Expect(table.Characteristics()).To(Equal(6))
			Expect(p.Table()).To(BeIdenticalTo(table))

			handle, err := p.Handle("180D", "2A37")
			Expect(err).ToNot(HaveOccurred())
			Expect(handle).To(Equal(uint16(14)))
		})

		It("reads and writes values", func() {
			value, err := p.Read(ctx, 3)
			Expect(err).ToNot(HaveOccurred())
			Expect(string(value)).To(Equal("Angel Sensor"))

			Expect(p.Write(ctx, 19, []byte{0x01})).To(Succeed())
			Expect(dongle.Value(19)).To(Equal([]byte{0x01}))
		})

		It("reports rejected procedures", func() {
			dongle.Fail(22, 0x0402)
			_, err := p.Read(ctx, 22)
			var procedureErr *protocol.ProcedureError
			Expect(errors.As(err, &procedureErr)).To(BeTrue())
			Expect(procedureErr.Code).To(Equal(uint16(0x0402)))
			Expect(procedureErr.Reason()).To(Equal("read not permitted"))

			Expect(p.Write(ctx, 99, []byte{0})).To(MatchError(ContainSubstring("invalid handle")))
		})

		It("times out when the peripheral stops answering", func() {
			dongle.SetDeaf(true)
			_, err := p.Read(ctx, 14)
			Expect(errors.Is(err, protocol.ErrRemoteTimeout)).To(BeTrue())
			Expect(protocol.ShouldRetry(err)).To(BeFalse())
		})

		It("waits for a value", func() {
			_, err := p.WaitValue(ctx, 14, 20*time.Millisecond)
			Expect(errors.Is(err, protocol.ErrRemoteTimeout)).To(BeTrue())

			go func() {
				time.Sleep(50 * time.Millisecond)
				dongle.Notify(14, []byte{0x00, 0x50})
			}()
			value, err := p.WaitValue(ctx, 14, time.Second)
			Expect(err).ToNot(HaveOccurred())
			Expect(value).To(Equal([]byte{0x00, 0x50}))
		})

		It("delivers notifications to subscribers", func() {
			_, err := p.Discover(ctx)
			Expect(err).ToNot(HaveOccurred())
			Expect(p.ConfigureClientCharacteristic(ctx, "180D", "2A37", true, false)).To(Succeed())
			Expect(dongle.Value(15)).To(Equal([]byte{0x01, 0x00}))

			received := make(chan []byte, 4)
			unsubscribe := p.Subscribe(14, func(value []byte) { received <- value })
			dongle.Notify(14, []byte{0x00, 0x48})
			dongle.Notify(14, []byte{0x00, 0x49})
			Eventually(received).Should(Receive(Equal([]byte{0x00, 0x48})))
			Eventually(received).Should(Receive(Equal([]byte{0x00, 0x49})))

			unsubscribe()
			dongle.Notify(14, []byte{0x00, 0x4A})
			Consistently(received, 50*time.Millisecond).ShouldNot(Receive())
		})

		It("writes long values in chunks", func() {
			data := make([]byte, 40)
			for i := range data {
				data[i] = byte(i)
			}
			Expect(p.WriteLong(ctx, 3, data)).To(Succeed())
			Expect(dongle.Value(3)).To(Equal(data))
			Expect(dongle.Count(bgapi.IDPrepareWrite)).To(Equal(3))
			Expect(dongle.Count(bgapi.IDExecuteWrite)).To(Equal(1))
		})

		It("discards chunks when a long write fails", func() {
			dongle.Fail(3, 0x0403)
			Expect(p.WriteLong(ctx, 3, make([]byte, 20))).To(MatchError(ContainSubstring("write not permitted")))
			Expect(dongle.Value(3)).To(Equal([]byte("Angel Sensor")))
			Expect(dongle.Count(bgapi.IDExecuteWrite)).To(Equal(1))
		})

		It("reads several attributes at once", func() {
			values, err := p.ReadMultiple(ctx, []uint16{22, 5})
			Expect(err).ToNot(HaveOccurred())
			Expect(values).To(Equal([]byte{87, 0x41, 0x03}))

			_, err = p.ReadMultiple(ctx, []uint16{22, 99})
			var procedureErr *protocol.ProcedureError
			Expect(errors.As(err, &procedureErr)).To(BeTrue())
			Expect(procedureErr.Code).To(Equal(dongletest.ResultInvalidHandle))
		})

		It("reads attributes by type", func() {
			rows, err := p.ReadByType(ctx, 1, 0xFFFF, ble.UUID16(0x2A19))
			Expect(err).ToNot(HaveOccurred())
			Expect(rows).To(HaveLen(1))
			Expect(rows[0].Handle).To(Equal(uint16(22)))
			Expect(rows[0].Value).To(Equal([]byte{87}))
		})

		It("finds a service by UUID", func() {
			groups, err := p.FindByTypeValue(ctx, 1, 0xFFFF, 0x2800, ble.UUID16(0x180F))
			Expect(err).ToNot(HaveOccurred())
			Expect(groups).To(HaveLen(1))
			Expect(groups[0].Start).To(Equal(uint16(20)))
			Expect(groups[0].End).To(Equal(uint16(23)))
		})

		It("keeps partial results when the peripheral runs out of attributes", func() {
			groups, err := p.FindByTypeValue(ctx, 1, 0xFFFF, 0x2800, ble.UUID16(0xFEED))
			Expect(err).ToNot(HaveOccurred())
			Expect(groups).To(BeEmpty())
		})

		It("caches the attribute table", func() {
			tables := cache.New(4)
			first, err := p.LoadOrDiscover(ctx, tables)
			Expect(err).ToNot(HaveOccurred())
			Expect(dongle.Count(bgapi.IDReadByGroupType)).To(Equal(1))
			_, ok := tables.GetEntry(sensorAddress)
			Expect(ok).To(BeTrue())

			p.SetTable(nil)
			second, err := p.LoadOrDiscover(ctx, tables)
			Expect(err).ToNot(HaveOccurred())
			Expect(second).To(Equal(first))
			Expect(dongle.Count(bgapi.IDReadByGroupType)).To(Equal(1))
		})
	})
})
