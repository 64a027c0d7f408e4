package peripheral

import (
	"slices"
	"sync"

	"github.com/AngelSensor/angel-sdk/internal/log"
	"github.com/AngelSensor/angel-sdk/pkg/bgapi"
)

type valueWaiter struct {
	handle uint16
	ch     chan *bgapi.AttributeValue
}

type subscriber struct {
	fn func(value []byte)
}

// values routes attribute values that no correlator expectation claimed. A value goes to the
// oldest waiter for its handle; notifications and indications also go to every subscriber.
type values struct {
	lock        sync.Mutex
	waiters     []*valueWaiter
	subscribers map[uint16][]*subscriber
	rows        func(*bgapi.AttributeValue)
}

func (v *values) init() {
	v.subscribers = make(map[uint16][]*subscriber)
}

func (v *values) expect(handle uint16) *valueWaiter {
	w := &valueWaiter{handle: handle, ch: make(chan *bgapi.AttributeValue, 1)}
	v.lock.Lock()
	v.waiters = append(v.waiters, w)
	v.lock.Unlock()
	return w
}

func (v *values) cancel(w *valueWaiter) {
	v.lock.Lock()
	defer v.lock.Unlock()
	if i := slices.Index(v.waiters, w); i >= 0 {
		v.waiters = slices.Delete(v.waiters, i, i+1)
	}
}

func (v *values) subscribe(handle uint16, fn func([]byte)) func() {
	s := &subscriber{fn: fn}
	v.lock.Lock()
	v.subscribers[handle] = append(v.subscribers[handle], s)
	v.lock.Unlock()
	return func() {
		v.lock.Lock()
		defer v.lock.Unlock()
		subs := v.subscribers[handle]
		if i := slices.Index(subs, s); i >= 0 {
			v.subscribers[handle] = slices.Delete(subs, i, i+1)
		}
		if len(v.subscribers[handle]) == 0 {
			delete(v.subscribers, handle)
		}
	}
}

// collectRows diverts read-by-type values to fn until called again with nil.
func (v *values) collectRows(fn func(*bgapi.AttributeValue)) {
	v.lock.Lock()
	defer v.lock.Unlock()
	v.rows = fn
}

func (v *values) dispatch(value *bgapi.AttributeValue) {
	v.lock.Lock()
	if value.Type == bgapi.ValueReadByType && v.rows != nil {
		rows := v.rows
		v.lock.Unlock()
		rows(value)
		return
	}

	claimed := false
	for i, w := range v.waiters {
		if w.handle == value.Handle {
			v.waiters = slices.Delete(v.waiters, i, i+1)
			w.ch <- value
			claimed = true
			break
		}
	}
	var subs []*subscriber
	if value.Type == bgapi.ValueNotify || value.Type == bgapi.ValueIndicate || value.Type == bgapi.ValueIndicateRspReq {
		subs = slices.Clone(v.subscribers[value.Handle])
	}
	v.lock.Unlock()

	for _, s := range subs {
		s.fn(value.Value)
	}
	if !claimed && len(subs) == 0 {
		log.Debug("Dropping unexpected value for handle %d", value.Handle)
	}
}

// collector accumulates the rows of a procedure. Rows arrive on the reader goroutine.
type collector[T any] struct {
	lock sync.Mutex
	rows []T
}

func (c *collector[T]) add(row T) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.rows = append(c.rows, row)
}

func (c *collector[T]) result() []T {
	c.lock.Lock()
	defer c.lock.Unlock()
	return slices.Clone(c.rows)
}
