package cache_test

import (
	"context"
	"fmt"

	"github.com/AngelSensor/angel-sdk/pkg/bgapi"
	"github.com/AngelSensor/angel-sdk/pkg/cache"
	"github.com/AngelSensor/angel-sdk/pkg/connector/serial"
	"github.com/AngelSensor/angel-sdk/pkg/peripheral"
)

func Example() {
	const cacheFilename = "my_cache.json"

	name, err := serial.Find()
	if err != nil {
		panic(err)
	}
	port, err := serial.Open(name, serial.DefaultBaudRate)
	if err != nil {
		panic(err)
	}

	address, err := bgapi.ParseAddress("00:07:80:AB:CD:EF")
	if err != nil {
		panic(err)
	}

	// Try to load cache from disk if it doesn't already exist
	var myCache *cache.TableCache
	if myCache, err = cache.ImportFromFile(cacheFilename); err != nil {
		myCache = cache.New(5) // Create a cache that holds tables for up to five peripherals
	}

	device := peripheral.New(port, address)
	if err := device.Start(context.Background()); err != nil {
		panic(err)
	}
	defer device.Close()

	if err := device.Connect(context.Background()); err != nil {
		panic(err)
	}
	defer device.Disconnect(context.Background())

	// LoadOrDiscover(...) will load from myCache when possible.
	if _, err := device.LoadOrDiscover(context.Background(), myCache); err != nil {
		panic(err)
	}

	defer func() {
		if err := myCache.ExportToFile(cacheFilename); err != nil {
			fmt.Printf("Error saving attribute table cache: %s\n", err)
		}
	}()

	// Interact with peripheral
}
