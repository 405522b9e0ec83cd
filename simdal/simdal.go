// Package simdal is an in-process simulated Device Abstraction Layer
// backend: it models the mailbox and DMA substrate spuctrl.Device needs
// without any real hardware or cgo dependency, so the dispatch core can be
// exercised end to end in ordinary Go tests. It does not itself emulate a
// guest runtime; callers (typically tests) play the guest's side of the
// protocol by reading from a Context's Inbox and writing through its
// SendOutbox / SendIntr methods.
package simdal

import (
	"context"
	"errors"
	"sync"

	"github.com/rmcilroy/spuctrl"
)

// Context is one simulated worker: its local store, its three mailboxes,
// and the halt signal ContextRun blocks on.
type Context struct {
	id int

	localStore []byte

	inbox    chan uint32
	outbox   chan uint32
	intrOut  chan uint32
	haltCh   chan struct{}
	haltOnce sync.Once
}

// Inbox exposes the raw channel a test-side "guest" reads host commands
// from.
func (c *Context) Inbox() <-chan uint32 { return c.inbox }

// SendIntr writes one interrupt-mailbox word from the simulated guest back
// to the host; it blocks if the channel is full (mirrors the bounded
// hardware FIFO).
func (c *Context) SendIntr(word uint32) { c.intrOut <- word }

// SendOutbox writes one ordinary-outbox word from the simulated guest.
func (c *Context) SendOutbox(word uint32) { c.outbox <- word }

// LocalStore exposes the context's simulated local store for test
// assertions and for a fake guest to inspect loaded code/data.
func (c *Context) LocalStore() []byte { return c.localStore }

// Halt causes a blocked ContextRun/ContextRunCtx call to return, simulating
// the guest program exiting (or being torn down at shutdown).
func (c *Context) Halt() {
	c.haltOnce.Do(func() { close(c.haltCh) })
}

// Gang is an opaque grouping handle; simdal gangs do no real scheduling.
type Gang struct{ id int }

// EventHandler is an opaque handle bound to one Context.
type EventHandler struct{ ctx *Context }

// Device is the simulated backend. Construct with NewDevice, specifying how
// many workers should be reported usable.
type Device struct {
	mu      sync.Mutex
	usable  int
	nextID  int
	hostMem map[uint32][]byte // sparse host memory, keyed by region base
	pending map[*Context]map[int]bool

	// OnContextCreated, if set, is called synchronously with every newly
	// created Context (in the same order the caller creates them). Tests
	// use this to attach a fake-guest goroutine to each simulated worker
	// as it's constructed, without needing a hook into the boot sequence
	// itself.
	OnContextCreated func(*Context)
}

const localStoreSize = 0x40000

// NewDevice returns a Device reporting usable as its worker count.
func NewDevice(usable int) *Device {
	return &Device{usable: usable, hostMem: make(map[uint32][]byte), pending: make(map[*Context]map[int]bool)}
}

// WriteHostMemory installs bytes as the simulated host-resident blob at
// addr, for a later DMAGet to copy from. Tests call this to set up
// runtime images, GOT contents, TIB tables, and the like before booting.
func (d *Device) WriteHostMemory(addr uint32, data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	d.hostMem[addr] = buf
}

func (d *Device) readHostMemory(addr uint32, length int) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for base, data := range d.hostMem {
		if addr >= base && int(addr-base)+length <= len(data) {
			off := int(addr - base)
			return data[off : off+length], nil
		}
	}
	return nil, errors.New("simdal: no host memory installed covering that range")
}

func (d *Device) UsableWorkerCount() (int, error) { return d.usable, nil }

func (d *Device) GangCreate() (spuctrl.Gang, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return &Gang{id: d.nextID}, nil
}

func (d *Device) GangDestroy(spuctrl.Gang) error { return nil }

func (d *Device) ContextCreate(flags spuctrl.ContextFlags, gang spuctrl.Gang) (spuctrl.Context, error) {
	d.mu.Lock()
	d.nextID++
	id := d.nextID
	d.mu.Unlock()
	c := &Context{
		id:         id,
		localStore: make([]byte, localStoreSize),
		inbox:      make(chan uint32, 64),
		outbox:     make(chan uint32, 64),
		intrOut:    make(chan uint32, 64),
		haltCh:     make(chan struct{}),
	}
	if d.OnContextCreated != nil {
		d.OnContextCreated(c)
	}
	return c, nil
}

func (d *Device) ContextDestroy(spuctrl.Context) error { return nil }

func (d *Device) ProgramLoad(ctx spuctrl.Context, image spuctrl.Image) error {
	c := ctx.(*Context)
	copy(c.localStore[image.Addr:], image.Data)
	return nil
}

func (d *Device) ContextRun(ctx spuctrl.Context, entry uint32) error {
	c := ctx.(*Context)
	<-c.haltCh
	return nil
}

func (d *Device) ContextRunCtx(goCtx context.Context, ctx spuctrl.Context, entry uint32) error {
	c := ctx.(*Context)
	select {
	case <-c.haltCh:
		return nil
	case <-goCtx.Done():
		return nil
	}
}

func (d *Device) EventHandlerCreate() (spuctrl.EventHandler, error) { return &EventHandler{}, nil }

func (d *Device) EventHandlerRegister(h spuctrl.EventHandler, ctx spuctrl.Context) error {
	h.(*EventHandler).ctx = ctx.(*Context)
	return nil
}

func (d *Device) EventHandlerDestroy(spuctrl.EventHandler) error { return nil }

func (d *Device) InboxWrite(ctx spuctrl.Context, words []uint32, mode spuctrl.MailboxMode) error {
	c := ctx.(*Context)
	for _, w := range words {
		c.inbox <- w
	}
	return nil
}

// OutboxRead blocks until n words have arrived on the ordinary outbox. The
// real hardware mailbox read can be non-blocking, but callers here always
// read a payload they already know (from an interrupt-mailbox signal) is on
// its way, and the simulated guest sends that signal and its payload from
// the same goroutine without a shared lockstep point between the two sends
// — blocking here is what keeps the two honest about ordering.
func (d *Device) OutboxRead(ctx spuctrl.Context, n int) ([]uint32, error) {
	c := ctx.(*Context)
	out := make([]uint32, n)
	for i := 0; i < n; i++ {
		out[i] = <-c.outbox
	}
	return out, nil
}

func (d *Device) IntrOutboxRead(ctx spuctrl.Context, n int) ([]uint32, error) {
	c := ctx.(*Context)
	out := make([]uint32, n)
	for i := 0; i < n; i++ {
		out[i] = <-c.intrOut
	}
	return out, nil
}

func (d *Device) DMAGet(ctx spuctrl.Context, lsAddr, hostAddr uint32, length int, tag int) error {
	c := ctx.(*Context)
	data, err := d.readHostMemory(hostAddr, length)
	if err != nil {
		return err
	}
	copy(c.localStore[lsAddr:], data)

	d.mu.Lock()
	if d.pending[c] == nil {
		d.pending[c] = make(map[int]bool)
	}
	d.pending[c][tag] = true
	d.mu.Unlock()
	return nil
}

func (d *Device) DMAWait(ctx spuctrl.Context, tagMask uint32) error {
	c := ctx.(*Context)
	d.mu.Lock()
	delete(d.pending, c)
	d.mu.Unlock()
	return nil
}
