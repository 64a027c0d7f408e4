/*
Package gatt models a peripheral's attribute table and rebuilds it from the flat attribute lists
reported by a dongle.

Discovery runs in two phases. First the primary services are enumerated, then each service's
handle range is listed and its attributes are grouped into characteristics:

	table, err := gatt.Discover(ctx, conn)
	if err != nil {
		return err
	}
	handle, err := table.Handle("180D", "2A37")

Discovery is slow, so tables can be persisted in a small text format and reloaded later with
[Save] and [Load]:

	service uuid 180D start 12 end 18
	    char 2A37
	        desc 2803 13
	        desc 2A37 14
	        desc 2902 15
*/
package gatt
