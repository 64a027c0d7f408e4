package gatt

import (
	"context"
	"fmt"

	"github.com/go-ble/ble"

	"github.com/AngelSensor/angel-sdk/internal/log"
)

// Group is one row of a read-by-group-type procedure.
type Group struct {
	Start, End uint16
	UUID       ble.UUID
}

// Enumerator runs the two attribute procedures discovery is built on. Each call blocks until the
// peripheral reports the procedure complete and returns the rows collected in the meantime.
type Enumerator interface {
	ReadByGroupType(ctx context.Context, start, end uint16, groupType ble.UUID) ([]Group, error)
	FindInformation(ctx context.Context, start, end uint16) ([]*Descriptor, error)
}

// Discover enumerates the primary services of a peripheral and then the characteristics of each.
func Discover(ctx context.Context, e Enumerator) (*Table, error) {
	groups, err := e.ReadByGroupType(ctx, 0x0001, 0xFFFF, PrimaryServiceUUID)
	if err != nil {
		return nil, fmt.Errorf("enumerating services: %w", err)
	}

	table := &Table{}
	for _, g := range groups {
		log.Debug("Found service %s at handles %d-%d", UUIDString(g.UUID), g.Start, g.End)
		table.Services = append(table.Services, &Service{UUID: g.UUID, Start: g.Start, End: g.End})
	}

	for _, s := range table.Services {
		descriptors, err := e.FindInformation(ctx, s.Start, s.End)
		if err != nil {
			return nil, fmt.Errorf("enumerating service %s: %w", UUIDString(s.UUID), err)
		}
		s.Characteristics = GroupCharacteristics(descriptors)
		log.Debug("Service %s has %d characteristics", UUIDString(s.UUID), len(s.Characteristics))
	}
	log.Info("Discovered %d services with %d characteristics", len(table.Services), table.Characteristics())
	return table, nil
}
