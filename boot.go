package spuctrl

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"
)

// PhysIDResolver maps a worker's 64-bit speId to its physical id, normally
// by reading /spu/gang-<pid>-<gang>/spethread-<pid>-<speId>/phys-id (spec.md
// §4.2 phase 2, §6). Tests substitute a resolver that doesn't touch the
// filesystem.
type PhysIDResolver func(gangID int, speID int64) (int, error)

// DefaultPhysIDResolver reads the kernel-exported phys-id file and parses
// its first line as a base-0 integer (so both decimal and 0x-prefixed
// values are accepted, matching strtol(..., 0)).
func DefaultPhysIDResolver(gangID int, speID int64) (int, error) {
	path := fmt.Sprintf("/spu/gang-%d-%d/spethread-%d-%d/phys-id", os.Getpid(), gangID, os.Getpid(), speID)
	data, err := os.ReadFile(path)
	if err != nil {
		return -1, fmt.Errorf("reading %s: %w", path, err)
	}
	line := strings.TrimSpace(strings.SplitN(string(data), "\n", 2)[0])
	id, err := strconv.ParseInt(line, 0, 64)
	if err != nil {
		return -1, fmt.Errorf("parsing phys-id from %s: %w", path, err)
	}
	return int(id), nil
}

// BootConfig supplies everything Boot needs beyond the DAL itself.
type BootConfig struct {
	Dal             Device
	BootRecord      *BootRecord
	BootloaderImage Image

	// GangID identifies this gang for phys-id path resolution; it has no
	// meaning beyond that (spec.md §6).
	GangID int

	// MaxWorkers clips the usable worker count; 0 means "use every usable
	// worker" (spec.md §4.2 phase 1: "clip to [1, UsableCount]").
	MaxWorkers int

	PhysID  PhysIDResolver
	Fatal   FatalHandler
	Console ConsoleWriter
}

// Boot runs the boot coordinator's eight phases (spec.md §4.2) to
// completion and returns the running Pool. Any phase's failure is fatal
// per spec.md §7: Boot reports the error via cfg.Fatal (or the default
// handler) and returns it — callers that install a non-exiting FatalHandler
// for tests still get the error back to decide what to do next.
func Boot(cfg BootConfig) (*Pool, error) {
	fatal := cfg.Fatal
	if fatal == nil {
		fatal = defaultFatalHandler
	}
	physID := cfg.PhysID
	if physID == nil {
		physID = DefaultPhysIDResolver
	}

	console := cfg.Console
	if console == nil {
		console = stdoutConsole{}
	}
	p := &Pool{dal: cfg.Dal, fatal: fatal, bootRecord: cfg.BootRecord, console: console}

	fail := func(workerIdx int, err error) (*Pool, error) {
		fatal(workerIdx, err)
		return nil, err
	}

	// Phase 1: context construction.
	usable, err := cfg.Dal.UsableWorkerCount()
	if err != nil {
		return fail(-1, &ResourceError{Op: "usable worker count", Err: err})
	}
	count := usable
	if cfg.MaxWorkers > 0 && cfg.MaxWorkers < count {
		count = cfg.MaxWorkers
	}
	if count < 1 {
		count = 1
	}

	gang, err := cfg.Dal.GangCreate()
	if err != nil {
		return fail(-1, &ResourceError{Op: "gang create", Err: err})
	}
	p.gang = gang

	p.workers = make([]*worker, count)
	for i := 0; i < count; i++ {
		ctx, err := cfg.Dal.ContextCreate(FlagEventsEnable, gang)
		if err != nil {
			return fail(i, &ResourceError{Op: "context create", Err: err})
		}
		if err := cfg.Dal.ProgramLoad(ctx, cfg.BootloaderImage); err != nil {
			return fail(i, &ResourceError{Op: "bootloader load", Err: err})
		}
		evt, err := cfg.Dal.EventHandlerCreate()
		if err != nil {
			return fail(i, &ResourceError{Op: "event handler create", Err: err})
		}
		if err := cfg.Dal.EventHandlerRegister(evt, ctx); err != nil {
			return fail(i, &ResourceError{Op: "event handler register", Err: err})
		}

		w := &worker{ctx: ctx, evt: evt, bootDone: make(chan struct{})}
		bctx, cancel := context.WithCancel(context.Background())
		w.bootCancel = cancel
		p.workers[i] = w

		go func(idx int, w *worker, entry uint32) {
			defer close(w.bootDone)
			var err error
			if rb, ok := cfg.Dal.(ctxBlocking); ok {
				err = rb.ContextRunCtx(bctx, w.ctx, entry)
			} else {
				err = cfg.Dal.ContextRun(w.ctx, entry)
			}
			if err != nil && bctx.Err() == nil {
				fatal(idx, &ResourceError{Op: "context run", Err: err})
			}
		}(i, w, 0)
	}

	// Phase 2: identity handshake, fanned out concurrently — each worker's
	// handshake is independent of every other's, so an errgroup (rather
	// than the long-lived per-worker boot threads above, which must stay
	// alive for the worker's whole lifetime) is the right tool here.
	var g errgroup.Group
	for i, w := range p.workers {
		i, w := i, w
		g.Go(func() error {
			words, err := cfg.Dal.IntrOutboxRead(w.ctx, 2)
			if err != nil {
				return &MailboxError{Op: fmt.Sprintf("worker %d identity handshake", i), Err: err}
			}
			speID := int64(words[0])<<32 | int64(words[1])
			id, err := physID(cfg.GangID, speID)
			if err != nil {
				return &ResourceError{Op: fmt.Sprintf("worker %d phys-id lookup", i), Err: err}
			}
			w.physID = id
			return cfg.Dal.InboxWrite(w.ctx, []uint32{uint32(id)}, AllBlocking)
		})
	}
	if err := g.Wait(); err != nil {
		return fail(-1, err)
	}

	// Phase 3: stable reorder by ascending physical id (spec.md §3's
	// "after boot, workers are ordered strictly ascending by physId").
	sort.SliceStable(p.workers, func(a, b int) bool {
		return p.workers[a].physID < p.workers[b].physID
	})

	// Phase 4: runtime image load, worker by worker in the now-fixed order.
	br := cfg.BootRecord
	for i, w := range p.workers {
		if runtimeCodeStart+br.OOLRuntimeCodeLen >= codeEntrypoint {
			return fail(i, &ProtocolError{Expected: "runtime code within bounds", Code: uint32(br.OOLRuntimeCodeLen)})
		}
		if err := cfg.Dal.DMAGet(w.ctx, runtimeCodeStart, br.OOLRuntimeCodeAddr, br.OOLRuntimeCodeLen, proxyTagGroup); err != nil {
			return fail(i, &DMAError{Op: "runtime code load", Err: err})
		}

		if codeEntrypoint+br.RuntimeEntryMethodLen >= codeEntrypointEnd {
			return fail(i, &ProtocolError{Expected: "entry method within bounds", Code: uint32(br.RuntimeEntryMethodLen)})
		}
		if err := cfg.Dal.DMAGet(w.ctx, codeEntrypoint, br.RuntimeEntryMethodAddr, br.RuntimeEntryMethodLen, proxyTagGroup); err != nil {
			return fail(i, &DMAError{Op: "entry method load", Err: err})
		}

		jtocPtr := br.GOTBase + uint32(int32(br.MiddleOffset))
		start := floor16(uint32(int32(jtocPtr) + br.NumericOffset))
		end := ceil16(uint32(int32(jtocPtr) + br.ReferenceOffset))
		if err := cfg.Dal.DMAGet(w.ctx, jtocPtrOffset-(jtocPtr-start), start, int(end-start), proxyTagGroup); err != nil {
			return fail(i, &DMAError{Op: "got initial load", Err: err})
		}
		w.got = gotWindow{start: start, end: end}

		if err := p.loadTocTables(i); err != nil {
			return fail(i, err)
		}
	}

	// Phase 5: fence and release.
	for i, w := range p.workers {
		if err := cfg.Dal.DMAWait(w.ctx, proxyTagGroupMask); err != nil {
			return fail(i, &DMAError{Op: "boot fence", Err: err})
		}
	}
	for i, w := range p.workers {
		if err := cfg.Dal.InboxWrite(w.ctx, []uint32{runtimeCopyComplete}, AllBlocking); err != nil {
			return fail(i, &MailboxError{Op: "runtime copy complete", Err: err})
		}
	}

	// Phase 6: VM-started handshake.
	for i, w := range p.workers {
		words, err := cfg.Dal.IntrOutboxRead(w.ctx, 2)
		if err != nil {
			return fail(i, &MailboxError{Op: "vm started handshake", Err: err})
		}
		if words[0] != javaVMStarted || int(words[1]) != w.physID {
			return fail(i, &ProtocolError{Expected: "JAVA_VM_STARTED", Code: words[0]})
		}
	}

	// Phase 7: publish.
	br.MarkBootComplete(len(p.workers))

	// Phase 8: support threads.
	p.slots = newSlotTable(len(p.workers))
	for i := range p.workers {
		i := i
		p.supportWG.Add(1)
		go func() {
			defer p.supportWG.Done()
			runSupportScheduler(i, p.slots, func(id int) {
				p.executeMigration(i, id)
			})
		}()
	}

	return p, nil
}

func floor16(a uint32) uint32 { return a &^ 15 }
func ceil16(a uint32) uint32  { return (a + 15) &^ 15 }
