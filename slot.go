package spuctrl

import "sync"

// MaxMigrations bounds the migration slot table, mirroring
// MAX_JAVA_SPU_THREADS in the original runtime.
const MaxMigrations = 256

// migrationSlot is one entry of the fixed-size slot table. inUse is the
// claim bit; complete is the result-ready bit. Invariants (spec.md §3):
// at most one claimer per slot; complete implies inUse; next links to
// another slot only while the slot is enqueued on the work list; retVal may only be
// read once complete holds, and the reader must clear inUse immediately
// after.
type migrationSlot struct {
	inUse    bool
	complete bool

	retType      RetType
	procAffinity int // -1 for "any worker"

	methodClassTocOffset uint32
	methodSubArchOffset  uint32
	paramsStart          []uint32 // host-resident parameter words
	paramsLength         int

	retVal [2]uint32

	// haveUpper tracks whether a *_UPPER half of a long/double return has
	// already arrived, so a *_LOWER that shows up first is rejected as a
	// protocol error (spec.md §4.5, an implementation MAY verify pairing).
	haveUpper bool

	next int // intrusive work-list link; -1 when not enqueued
}

// slotTable is the fixed-size table of migration slots plus the
// workMutex that spec.md §4.4/§5 says protects both workToDo and the
// inUse/complete bits used for claim/release.
type slotTable struct {
	mu    sync.Mutex
	conds []*sync.Cond // one per support-thread worker, sharing mu
	slots [MaxMigrations]migrationSlot

	head int // index of the most recently pushed slot, or -1

	stopped bool
}

func newSlotTable(workerCount int) *slotTable {
	t := &slotTable{head: -1}
	t.conds = make([]*sync.Cond, workerCount)
	for i := range t.conds {
		t.conds[i] = sync.NewCond(&t.mu)
	}
	for i := range t.slots {
		t.slots[i].next = -1
	}
	return t
}

// wake signals the support thread(s) that might claim an item with the
// given affinity: every worker when affinity is "any" (-1), otherwise only
// the named worker. This is the targeted-signal improvement spec.md's
// Design Notes call out as a strict improvement over a blanket broadcast;
// observable scheduling semantics (§4.4, §8 property 5) are unchanged
// either way, since a worker that wakes to a non-matching head item simply
// re-queues it and loops.
func (t *slotTable) wake(affinity int) {
	if affinity < 0 {
		for _, c := range t.conds {
			c.Broadcast()
		}
		return
	}
	t.conds[affinity].Broadcast()
}

// stop wakes every support thread so they can observe stopped and return,
// the cancellation point spec.md §5 requires support threads to be
// blocked at.
func (t *slotTable) stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
	for _, c := range t.conds {
		c.Broadcast()
	}
}

// waitForWork blocks until the work list is non-empty or the table has
// been stopped, then pops the front item unconditionally (matching
// affinity is the caller's job, not this method's — see workqueue.go).
func (t *slotTable) waitForWork(workerIdx int) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for t.head < 0 {
		if t.stopped {
			return -1, false
		}
		t.conds[workerIdx].Wait()
	}
	if t.stopped {
		return -1, false
	}
	id, _ := t.popFront()
	return id, true
}

// submit finds the first free slot, populates it, and pushes it onto the
// front of the LIFO work list (spec.md §4.4 steps 1-5).
func (t *slotTable) submit(retType RetType, affinity int, methodToc, methodSub uint32, params []uint32) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := -1
	for i := range t.slots {
		if !t.slots[i].inUse {
			id = i
			break
		}
	}
	if id < 0 {
		return 0, errNoFreeSlot
	}

	s := &t.slots[id]
	s.inUse = true
	s.complete = false
	s.haveUpper = false
	s.retType = retType
	s.procAffinity = affinity
	s.methodClassTocOffset = methodToc
	s.methodSubArchOffset = methodSub
	s.paramsStart = params
	s.paramsLength = len(params)
	s.retVal = [2]uint32{}

	s.next = t.head
	t.head = id

	t.wake(affinity)
	return id, nil
}

// popFront removes and returns the id of the slot at the front of the
// LIFO work list, or (-1, false) if the list is empty.
func (t *slotTable) popFront() (int, bool) {
	if t.head < 0 {
		return -1, false
	}
	id := t.head
	t.head = t.slots[id].next
	t.slots[id].next = -1
	return id, true
}

// pushFront re-enqueues a previously popped slot at the front of the
// list, used when a worker's affinity doesn't match (spec.md §4.4).
func (t *slotTable) pushFront(id int) {
	t.slots[id].next = t.head
	t.head = id
}

// requeue re-enqueues a popped slot whose affinity didn't match the taker,
// and wakes whichever worker(s) could still claim it.
func (t *slotTable) requeue(id int) {
	t.mu.Lock()
	affinity := t.slots[id].procAffinity
	t.pushFront(id)
	t.mu.Unlock()
	t.wake(affinity)
}

// markComplete marks the slot complete; the return value words have
// already been written into retVal by the service loop. inUse is left set: only the return-value harvest clears
// it (spec.md §4.5 "Post-terminate").
func (t *slotTable) markComplete(id int) {
	t.mu.Lock()
	t.slots[id].complete = true
	t.mu.Unlock()
}

// harvest asserts the slot is complete, copies out retVal, clears inUse,
// and returns the two result words.
func (t *slotTable) harvest(id int) ([2]uint32, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := &t.slots[id]
	if !s.complete {
		return [2]uint32{}, &SlotError{Msg: "return value requested before migration completed"}
	}
	ret := s.retVal
	s.inUse = false
	return ret, nil
}

// isComplete reports the slot's complete bit under the table lock.
func (t *slotTable) isComplete(id int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.slots[id].complete
}
