package peripheral

import (
	"context"

	"github.com/AngelSensor/angel-sdk/internal/log"
	"github.com/AngelSensor/angel-sdk/pkg/bgapi"
)

// Hello checks that the dongle is responsive.
func (p *Peripheral) Hello(ctx context.Context) error {
	p.procedureLock.Lock()
	defer p.procedureLock.Unlock()
	_, err := p.correlator.Call(ctx, &bgapi.Hello{})
	return err
}

// Reset restarts the dongle and waits for it to boot. Any connection is lost.
func (p *Peripheral) Reset(ctx context.Context) error {
	p.procedureLock.Lock()
	defer p.procedureLock.Unlock()

	boot := p.correlator.Expect(bgapi.IDSystemBoot)
	if err := p.correlator.Send(&bgapi.Reset{}); err != nil {
		boot.Cancel()
		return err
	}
	event, err := as[*bgapi.SystemBoot](boot.WaitRemote(ctx, 0))
	if err != nil {
		return err
	}
	p.reset()
	log.Info("Dongle restarted: %s", event.Info)
	return nil
}

// GetInfo returns the dongle's firmware and hardware versions.
func (p *Peripheral) GetInfo(ctx context.Context) (bgapi.Info, error) {
	p.procedureLock.Lock()
	defer p.procedureLock.Unlock()
	response, err := as[*bgapi.GetInfoResponse](p.correlator.Call(ctx, &bgapi.GetInfo{}))
	if err != nil {
		return bgapi.Info{}, err
	}
	return response.Info, nil
}

// MaxConnections returns how many simultaneous connections the dongle's firmware supports.
func (p *Peripheral) MaxConnections(ctx context.Context) (uint8, error) {
	p.procedureLock.Lock()
	defer p.procedureLock.Unlock()
	response, err := as[*bgapi.GetConnectionsResponse](p.correlator.Call(ctx, &bgapi.GetConnections{}))
	if err != nil {
		return 0, err
	}
	return response.MaxConnections, nil
}

// RSSI returns the received signal strength of the connection, in dBm.
func (p *Peripheral) RSSI(ctx context.Context) (int8, error) {
	p.procedureLock.Lock()
	defer p.procedureLock.Unlock()
	id, err := p.connection()
	if err != nil {
		return 0, err
	}
	response, err := as[*bgapi.GetRSSIResponse](p.correlator.Call(ctx, &bgapi.GetRSSI{Connection: id}))
	if err != nil {
		return 0, err
	}
	return response.RSSI, nil
}
