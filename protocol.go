package spuctrl

// Mailbox protocol words exchanged between the host and a worker. All codes
// are 32-bit and exactly as the guest runtime expects them; the values come
// from the original VM_Com_Constants layout (see spuDefs.h in the retained
// boot-image runner source), not a reimagining.
const (
	ack  = 0x1
	nack = 0x2

	errTooManyParams     = 0x3
	errMethodNotPrepared = 0x4
	errMethodNotLoaded   = 0x5
	errParamsNotLoaded   = 0x6
	errUnknownCmd        = 0x7

	runtimeCopyComplete = 0x10
	javaVMStarted       = 0x11
	setProcessorReg     = 0x12

	loadStaticMethod = 0x20
	loadWordParam    = 0x21
	loadDoubleParam  = 0x22 // reserved; not emitted by this core

	RunMethodReturningVoid   = 0x23
	RunMethodReturningInt    = 0x24
	RunMethodReturningFloat  = 0x25
	RunMethodReturningLong   = 0x26
	RunMethodReturningDouble = 0x27
	RunMethodReturningRef    = 0x28

	loadClassStatics = 0x29 // reserved; not emitted by this core

	returnValueV       = 0x30
	returnValueI       = 0x31
	returnValueLUpper  = 0x32
	returnValueLLower  = 0x33
	returnValueF       = 0x34
	returnValueDUpper  = 0x35
	returnValueDLower  = 0x36
	returnValueR       = 0x37
	trapMessage        = 0x40
	consoleWriteChar   = 0x41
	consoleWriteInt    = 0x42
	consoleWriteIntB   = 0x43
	consoleWriteIntHex = 0x44
	consoleWriteLong   = 0x45
	consoleWriteLongB  = 0x46
	consoleWriteLongHx = 0x47
	consoleWriteDouble = 0x48
	fakeTrapMessage    = 0x49
	fakeTrapMessageStr = 0x4A
	fakeTrapMessageInt = 0x4B
)

// RetType selects the guest-side RUN_METHOD_RETURNING_* code for a migration.
type RetType uint32

// Local-store memory layout, fixed on every worker (see spuDefs.h).
const (
	runtimeCodeStart   = 0x0000
	trapEntrypoint     = 0x0680
	codeEntrypoint     = 0x0700
	codeEntrypointEnd  = 0x1000
	objectCacheTable   = 0x1000
	objectCacheTableLn = 0x2000
	codeCacheStart     = objectCacheTable + objectCacheTableLn
	codeCacheLength    = 0xD000
	objectCacheStart   = codeCacheStart + codeCacheLength
	objectCacheLength  = 0x20000
	staticsStart       = objectCacheStart + objectCacheLength
	staticsLength      = 0x4000
	classTIBsStart     = staticsStart + staticsLength
	classTIBsLength    = 0x1000
	jtocTableStart     = classTIBsStart + classTIBsLength
	jtocTableLength    = 0x1000
	staticsTOCStart    = jtocTableStart + jtocTableLength
	staticsTOCLength   = 0x1000
	tibTable           = staticsTOCStart + staticsTOCLength
	tibTableLength     = 0x0800
	sizeStaticsTable   = tibTable + tibTableLength
	sizeStaticsTableLn = 0x0800
	atomicCacheLine    = sizeStaticsTable + sizeStaticsTableLn
	atomicCacheLineLn  = 128
	stackBegin         = 0x3FFF0

	// jtocPtrOffset is the fixed local-store address of JTOC_PTR, the
	// midpoint of the GOT window every worker mirrors.
	jtocPtrOffset = jtocTableStart + jtocTableLength/2
)

// proxyTagGroup is the single DMA tag group used for every transfer issued
// by this core (PROXY_TAG_GROUP = 15 in the original runtime).
const proxyTagGroup = 15

// proxyTagGroupMask is the bitmask form of proxyTagGroup (PROXY_TAG_GROUP_BM
// in the original runtime: 1 << PROXY_TAG_GROUP). DMAWait's tagMask argument
// is a per-tag-bit mask, not a tag id, so every DMAWait call site must pass
// this, never proxyTagGroup itself.
const proxyTagGroupMask = uint32(1) << proxyTagGroup

// maskID extracts the low bits that encode a migration slot id out of a
// packed subarch-thread-status word, mirroring the original MASK_ID macro.
func maskID(status int) int {
	return status & 0xFFFF
}

// subArchReadyBit is OR'd into a status word once its slot has completed.
const subArchReadyBit = 1 << 16
