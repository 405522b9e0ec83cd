package spuctrl

import (
	"testing"
	"time"
)

func TestSlotLifecycle(t *testing.T) {
	st := newSlotTable(1)

	id, err := st.submit(RunMethodReturningInt, -1, 0x10, 0x20, []uint32{0xDEAD})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if st.slots[id].inUse != true || st.slots[id].complete {
		t.Fatalf("expected inUse=true,complete=false right after submit, got inUse=%v complete=%v",
			st.slots[id].inUse, st.slots[id].complete)
	}

	if _, err := st.harvest(id); err == nil {
		t.Fatalf("harvest before complete should fail")
	}

	st.slots[id].retVal = [2]uint32{0x42, 0}
	st.markComplete(id)
	if !st.isComplete(id) {
		t.Fatalf("expected isComplete true after markComplete")
	}

	ret, err := st.harvest(id)
	if err != nil {
		t.Fatalf("harvest: %v", err)
	}
	if ret[0] != 0x42 {
		t.Fatalf("retVal[0] = 0x%x, want 0x42", ret[0])
	}
	if st.slots[id].inUse {
		t.Fatalf("expected inUse cleared after harvest")
	}
}

func TestSlotTableExhaustion(t *testing.T) {
	st := newSlotTable(1)
	for i := 0; i < MaxMigrations; i++ {
		if _, err := st.submit(RunMethodReturningVoid, -1, 0, 0, nil); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}
	if _, err := st.submit(RunMethodReturningVoid, -1, 0, 0, nil); err == nil {
		t.Fatalf("expected error submitting past MaxMigrations")
	}
}

func TestSchedulerAffinityRequeuesMismatch(t *testing.T) {
	st := newSlotTable(2)

	id, err := st.submit(RunMethodReturningVoid, 1, 0, 0, nil)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	executed := make(chan int, 1)
	done := make(chan struct{})
	go func() {
		runSupportScheduler(0, st, func(gotID int) {
			t.Errorf("worker 0 executed slot %d, whose affinity is worker 1", gotID)
			executed <- gotID
			st.markComplete(gotID)
		})
		close(done)
	}()
	go func() {
		runSupportScheduler(1, st, func(gotID int) {
			executed <- gotID
			st.markComplete(gotID)
		})
	}()

	select {
	case gotID := <-executed:
		if gotID != id {
			t.Fatalf("executed id = %d, want %d", gotID, id)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for worker 1 to claim the affinity=1 item")
	}

	if !st.isComplete(id) {
		t.Fatalf("expected slot complete after correct worker executed it")
	}

	st.stop()
	<-done
}

func TestCheckStatusIdempotentUntilComplete(t *testing.T) {
	st := newSlotTable(1)
	p := &Pool{slots: st}

	id, err := st.submit(RunMethodReturningVoid, -1, 0, 0, nil)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	status := []uint32{uint32(id)}
	a := p.CheckStatus(status)
	b := p.CheckStatus(status)
	if a[0] != b[0] {
		t.Fatalf("CheckStatus not idempotent before completion: %x vs %x", a[0], b[0])
	}
	if a[0]&subArchReadyBit != 0 {
		t.Fatalf("expected ready bit unset before completion")
	}

	st.markComplete(id)
	c := p.CheckStatus(status)
	if c[0]&subArchReadyBit == 0 {
		t.Fatalf("expected ready bit set after completion")
	}
	d := p.CheckStatus(status)
	if c[0] != d[0] {
		t.Fatalf("CheckStatus not idempotent after completion settled: %x vs %x", c[0], d[0])
	}
}
