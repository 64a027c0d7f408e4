/*
Package peripheral drives a single BLE peripheral through a BGAPI dongle.

A Peripheral owns the reader goroutine servicing the dongle. Procedures are serialized, so at most
one command is awaiting an answer at any time; notifications are delivered asynchronously through
[Peripheral.Subscribe].

	port, err := serial.Open("/dev/ttyACM0", serial.DefaultBaudRate)
	if err != nil {
		return err
	}
	p := peripheral.New(port, address)
	if err := p.Start(ctx); err != nil {
		return err
	}
	defer p.Close()

	if err := p.Connect(ctx); err != nil {
		return err
	}
	table, err := p.Discover(ctx)
*/
package peripheral
