package spuctrl

import "sync/atomic"

// BootRecord describes the host memory regions this core must DMA onto
// each worker, and the small set of fields the core reports back to the
// surrounding VM. It is a shared-memory structure in spirit: the VM is
// the single writer of the GOT/offset fields and the runtime image
// pointers; this core is the single writer of the cached-offset fields,
// the dirty-clear, noSubArchProcs and the boot-complete flag. Each field
// below documents its writer; Dirty is the one field with two (the VM sets
// it, the core clears it).
type BootRecord struct {
	// GOTBase, MiddleOffset, NumericOffset and ReferenceOffset: written by
	// the VM. GOTBase is the GOT's host base pointer; MiddleOffset splits
	// numerics (below) from references (above); NumericOffset and
	// ReferenceOffset are the current extent of each side.
	GOTBase         uint32
	MiddleOffset    int32
	NumericOffset   int32
	ReferenceOffset int32

	// JTOCLastCachedNumericOffset / JTOCLastCachedReferenceOffset:
	// written by the core after each successful reload, mirroring the
	// bounds the core has actually DMA'd to every worker that has been
	// reloaded since.
	JTOCLastCachedNumericOffset   int32
	JTOCLastCachedReferenceOffset int32

	// Dirty: set by the VM whenever it mutates the GOT; cleared by the
	// core in the same step it fans the flag out to every worker (see
	// got.go's reloadGOT).
	Dirty bool

	// OOLRuntimeCodeAddr/Len and RuntimeEntryMethodAddr/Len: written by the
	// VM once at start-of-day; describe the host-resident out-of-line
	// runtime code blob and runtime entry method blob DMA'd onto every
	// worker during boot (spec.md §4.2 phase 4).
	OOLRuntimeCodeAddr     uint32
	OOLRuntimeCodeLen      int
	RuntimeEntryMethodAddr uint32
	RuntimeEntryMethodLen  int

	// ClassTIBsAddr / StaticsSizeTableAddr: written by the VM; re-DMA'd in
	// full on every reload (loadTocTables), since unlike the GOT they have
	// no incremental-extension scheme. Lengths are fixed by the local-store
	// layout (tibTableLength, sizeStaticsTableLn).
	ClassTIBsAddr        uint32
	StaticsSizeTableAddr uint32

	// FakeTrapStrings: written by the VM once at start-of-day. Index i
	// is the string a FAKE_TRAP_MESSAGE_STR naming index i should print.
	FakeTrapStrings []string

	// NoSubArchProcs: written by the core once boot completes.
	NoSubArchProcs int32

	// SubArchBootComplete: written by the core once boot completes. Uses
	// atomic store/load rather than a plain bool since the VM reads it
	// from an arbitrary goroutine concurrently with the core's write;
	// spec.md's Design Notes call out exactly this field for explicit
	// acquire/release ordering.
	subArchBootComplete atomic.Bool
}

// MarkBootComplete is called once by the boot coordinator after every
// worker has signalled JAVA_VM_STARTED.
func (b *BootRecord) MarkBootComplete(workerCount int) {
	b.NoSubArchProcs = int32(workerCount)
	b.subArchBootComplete.Store(true)
}

// BootComplete reports whether boot has finished; safe to call
// concurrently with MarkBootComplete.
func (b *BootRecord) BootComplete() bool {
	return b.subArchBootComplete.Load()
}
