package spuctrl

// dmaXfer is one alignment-respecting DMA transfer computed by the GOT
// extension algorithm: hostAddr's offset from jtocPtr also derives the
// destination local-store address (localAddr = JTOC_PTR +
// (hostAddr - jtocPtr)).
type dmaXfer struct {
	hostAddr uint32
	length   int
}

func align4(a uint32) bool  { return a%4 == 0 }
func align16(a uint32) bool { return a%16 == 0 }

// extendDown computes the DMA batch that grows the cached window's start
// from oldStart down to newStart (only called when newStart < oldStart),
// realigning both the new frontier and the old frontier to natural
// transfer sizes before issuing one bulk 16-aligned middle transfer. This
// is a direct translation of reloadJtoc's numeric-side block in the
// retained boot-image runner source (original_source/tools/bootImageRunner/spuCtrl.C),
// which spec.md §4.3 describes in the same five steps.
func extendDown(newStart, oldStart uint32) []dmaXfer {
	var xfers []dmaXfer
	ns, os := newStart, oldStart

	if ns < os && !align4(ns) {
		xfers = append(xfers, dmaXfer{ns, 4})
		ns += 4
	}
	if ns < os && !align16(ns) {
		n := 8
		if os-ns == 4 {
			n = 4
		}
		xfers = append(xfers, dmaXfer{ns, n})
		ns += uint32(n)
	}
	if ns < os && !align4(os) {
		os -= 4
		xfers = append(xfers, dmaXfer{os, 4})
	}
	if ns < os && !align16(os) {
		n := 8
		if os-ns == 4 {
			n = 4
		}
		os -= uint32(n)
		xfers = append(xfers, dmaXfer{os, n})
	}
	if ns < os {
		xfers = append(xfers, dmaXfer{ns, int(os - ns)})
	}
	return xfers
}

// extendUp is extendDown's mirror image for the reference side: it grows
// the cached window's end from oldEnd up to newEnd (only called when
// newEnd > oldEnd), trimming the new frontier down from the top first,
// then extending the old frontier up from the bottom.
func extendUp(newEnd, oldEnd uint32) []dmaXfer {
	var xfers []dmaXfer
	ne, oe := newEnd, oldEnd

	if ne > oe && !align4(ne) {
		ne -= 4
		xfers = append(xfers, dmaXfer{ne, 4})
	}
	if ne > oe && !align16(ne) {
		n := 8
		if ne-4 == oe {
			n = 4
		}
		ne -= uint32(n)
		xfers = append(xfers, dmaXfer{ne, n})
	}
	if ne > oe && !align4(oe) {
		xfers = append(xfers, dmaXfer{oe, 4})
		oe += 4
	}
	if ne > oe && !align16(oe) {
		n := 8
		if ne-4 == oe {
			n = 4
		}
		xfers = append(xfers, dmaXfer{oe, n})
		oe += uint32(n)
	}
	if ne > oe {
		xfers = append(xfers, dmaXfer{oe, int(ne - oe)})
	}
	return xfers
}

// reloadGOT is called before every migration (spec.md §4.3). If the boot
// record's dirty flag is set, it fans out to every worker's dirty flag
// and clears the host flag in one step (spec.md §3's "dirty flag
// propagates fan-out" invariant). If the selected worker isn't dirty,
// this is a no-op; otherwise it computes and issues the minimal DMA
// batch to extend that worker's cached window to the current bounds,
// then commits the new bounds and clears the worker's dirty flag. DMA
// completion is not awaited here — spec.md §4.3 "Commit" note — that
// happens lazily in prepareMigration via dmaWait.
func (p *Pool) reloadGOT(workerIdx int) error {
	br := p.bootRecord
	if br.Dirty {
		for _, w := range p.workers {
			w.gotMu.Lock()
			w.got.dirty = true
			w.gotMu.Unlock()
		}
		br.Dirty = false
	}

	w := p.workers[workerIdx]
	w.gotMu.Lock()
	if !w.got.dirty {
		w.gotMu.Unlock()
		return nil
	}
	oldStart, oldEnd := w.got.start, w.got.end
	w.gotMu.Unlock()

	jtocPtr := br.GOTBase + uint32(int32(br.MiddleOffset))
	newStart := uint32(int32(jtocPtr) + br.NumericOffset)
	newEnd := uint32(int32(jtocPtr) + br.ReferenceOffset)

	if newStart < oldStart {
		for _, x := range extendDown(newStart, oldStart) {
			if err := p.dmaGetFromJTOC(workerIdx, jtocPtr, x.hostAddr, x.length); err != nil {
				return err
			}
		}
	}
	if newEnd > oldEnd {
		for _, x := range extendUp(newEnd, oldEnd) {
			if err := p.dmaGetFromJTOC(workerIdx, jtocPtr, x.hostAddr, x.length); err != nil {
				return err
			}
		}
	}

	w.gotMu.Lock()
	w.got = gotWindow{start: newStart, end: newEnd, dirty: false}
	w.gotMu.Unlock()

	br.JTOCLastCachedNumericOffset = br.NumericOffset
	br.JTOCLastCachedReferenceOffset = br.ReferenceOffset
	return nil
}

// dmaGetFromJTOC issues one DMA get of a GOT byte range, mapping the host
// address to the worker's local JTOC mirror address.
func (p *Pool) dmaGetFromJTOC(workerIdx int, jtocPtr, hostAddr uint32, length int) error {
	lsAddr := jtocPtrOffset + (hostAddr - jtocPtr)
	if err := p.dal.DMAGet(p.workers[workerIdx].ctx, lsAddr, hostAddr, length, proxyTagGroup); err != nil {
		return &DMAError{Op: "got extend", Err: err}
	}
	return nil
}

// loadTocTables re-DMAs the class TIBs and statics-size tables in full;
// unlike the GOT, these have no incremental-extension scheme (spec.md
// §4.3 "Class-table refresh").
func (p *Pool) loadTocTables(workerIdx int) error {
	w := p.workers[workerIdx]
	br := p.bootRecord
	if err := p.dal.DMAGet(w.ctx, tibTable, br.ClassTIBsAddr, tibTableLength, proxyTagGroup); err != nil {
		return &DMAError{Op: "load tib table", Err: err}
	}
	if err := p.dal.DMAGet(w.ctx, sizeStaticsTable, br.StaticsSizeTableAddr, sizeStaticsTableLn, proxyTagGroup); err != nil {
		return &DMAError{Op: "load statics size table", Err: err}
	}
	return nil
}
