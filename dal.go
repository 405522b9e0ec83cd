package spuctrl

import "context"

// MailboxMode selects the blocking behaviour of an inbound mailbox write,
// mirroring SPE_MBOX_ALL_BLOCKING / SPE_MBOX_ANY_NONBLOCKING.
type MailboxMode int

const (
	// AllBlocking blocks until every word has been written.
	AllBlocking MailboxMode = iota
	// AnyNonBlocking writes as many words as currently fit without
	// blocking.
	AnyNonBlocking
)

// ContextFlags requested when creating a worker context.
type ContextFlags int

const (
	// FlagEventsEnable requests an event-capable context (the only flag
	// this core needs; SPE_MAP_PS is an implementation detail of the real
	// backend's page mapping and is not modelled here).
	FlagEventsEnable ContextFlags = 1 << iota
)

// Image is a runtime blob (bootloader, out-of-line code, entry method,
// TIB/statics tables, ...) destined for a fixed local-store address.
type Image struct {
	Addr uint32
	Data []byte
}

// Gang is an opaque handle to a group of contexts the kernel schedules
// together.
type Gang interface{}

// Context is an opaque handle to one configured worker.
type Context interface{}

// EventHandler is an opaque handle bound to a context's outbound-interrupt
// mailbox event.
type EventHandler interface{}

// Device is the Device Abstraction Layer: uniform access to a worker's
// mailboxes, DMA engine, and context lifecycle. Every method that can fail
// returns an error, which the core wraps in a typed error (MailboxError /
// DMAError / ResourceError) before reporting it; the DAL itself makes no policy decision beyond "every error is fatal to the
// migration and reported upward" (spec.md §4.1) — callers decide what
// "reported upward" means.
type Device interface {
	// UsableWorkerCount reports how many auxiliary processors the kernel
	// currently makes available (spe_cpu_info_get(SPE_COUNT_USABLE_SPES)
	// in the original runtime).
	UsableWorkerCount() (int, error)

	GangCreate() (Gang, error)
	GangDestroy(Gang) error

	ContextCreate(flags ContextFlags, gang Gang) (Context, error)
	ContextDestroy(Context) error
	ProgramLoad(ctx Context, image Image) error
	ContextRun(ctx Context, entry uint32) error

	EventHandlerCreate() (EventHandler, error)
	EventHandlerRegister(h EventHandler, ctx Context) error
	EventHandlerDestroy(EventHandler) error

	// InboxWrite writes n words to ctx's inbound mailbox.
	InboxWrite(ctx Context, words []uint32, mode MailboxMode) error
	// OutboxRead performs a non-blocking read of n words from the
	// ordinary outbound mailbox; used only after a prior interrupt has
	// signalled data is available.
	OutboxRead(ctx Context, n int) ([]uint32, error)
	// IntrOutboxRead blocks until n interrupt-mailbox words are produced.
	IntrOutboxRead(ctx Context, n int) ([]uint32, error)

	// DMAGet queues a get of length bytes from hostAddr into ctx's local
	// store at lsAddr, tagged with tag. length must be <= 16KiB; lsAddr
	// must be 16-byte aligned, and hostAddr must be 16-byte aligned when
	// length >= 16 (4/8-byte natural alignment otherwise).
	DMAGet(ctx Context, lsAddr, hostAddr uint32, length int, tag int) error
	// DMAWait blocks until every outstanding DMA tagged with any bit in
	// tagMask has completed.
	DMAWait(ctx Context, tagMask uint32) error
}

// ctxBlocking is satisfied by backends whose ContextRun blocks until the
// worker's guest program halts or is cancelled via the supplied context;
// the simulated backend implements it so tests can cancel a running
// worker without leaking a goroutine.
type ctxBlocking interface {
	ContextRunCtx(ctx context.Context, c Context, entry uint32) error
}
