// Package cache lets clients skip attribute discovery when reconnecting to a known peripheral.
//
// Discovering a peripheral's attribute table takes one procedure per service and can take several
// seconds. A [TableCache] stores discovered tables, keyed by peripheral address, in the same text
// form written by gatt.Save. If a cached table is outdated (because the peripheral's firmware
// changed), lookups may fail or writes may land on the wrong handle; remove the entry and discover
// again.
//
// The same TableCache may safely be used with different peripherals.
package cache
