package peripheral

import (
	"context"

	"github.com/AngelSensor/angel-sdk/internal/log"
	"github.com/AngelSensor/angel-sdk/pkg/cache"
	"github.com/AngelSensor/angel-sdk/pkg/gatt"
)

// Discover enumerates the peripheral's attribute table and installs it.
func (p *Peripheral) Discover(ctx context.Context) (*gatt.Table, error) {
	table, err := gatt.Discover(ctx, p)
	if err != nil {
		return nil, err
	}
	p.SetTable(table)
	return table, nil
}

// LoadOrDiscover installs the table cached for this peripheral's address. If the cache has no
// usable entry the table is discovered and the cache updated. The caller is responsible for
// persisting the cache.
func (p *Peripheral) LoadOrDiscover(ctx context.Context, tables *cache.TableCache) (*gatt.Table, error) {
	if tables != nil {
		table, ok, err := tables.Table(p.Address.String())
		if err != nil {
			log.Warning("Ignoring cached attribute table for %s: %s", p.Address, err)
		} else if ok {
			log.Info("Loaded attribute table for %s from cache", p.Address)
			p.SetTable(table)
			return table, nil
		}
	}

	table, err := p.Discover(ctx)
	if err != nil {
		return nil, err
	}
	if tables != nil {
		if err := p.UpdateCachedTable(tables); err != nil {
			return nil, err
		}
	}
	return table, nil
}

// UpdateCachedTable stores the current table in tables.
func (p *Peripheral) UpdateCachedTable(tables *cache.TableCache) error {
	table := p.Table()
	if table == nil {
		return ErrNoTable
	}
	return tables.Update(p.Address.String(), table)
}
