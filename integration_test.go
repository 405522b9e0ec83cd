package spuctrl

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/rmcilroy/spuctrl/simdal"
)

// fakeGuest plays the guest runtime's side of the boot and migration
// protocols against one simulated worker context, driven entirely off the
// mailbox traffic (it does not execute any instructions). speID and physID
// are the values this guest should present at, respectively, the identity
// handshake and the VM-started handshake.
func fakeGuest(t *testing.T, c *simdal.Context, speID int64, physID uint32, stop <-chan struct{}) {
	t.Helper()

	c.SendIntr(uint32(speID >> 32))
	c.SendIntr(uint32(speID))

	select {
	case got := <-c.Inbox():
		if got != physID {
			t.Errorf("identity handshake: host assigned phys-id %d, want %d", got, physID)
		}
	case <-stop:
		return
	}

	select {
	case cmd := <-c.Inbox():
		if cmd != runtimeCopyComplete {
			t.Errorf("expected RUNTIME_COPY_COMPLETE, got 0x%x", cmd)
		}
	case <-stop:
		return
	}
	c.SendIntr(javaVMStarted)
	c.SendIntr(physID)

	for {
		var cmd uint32
		select {
		case cmd = <-c.Inbox():
		case <-stop:
			return
		}
		if cmd != loadStaticMethod {
			t.Errorf("expected LOAD_STATIC_METHOD, got 0x%x", cmd)
			return
		}
		toc := <-c.Inbox()
		sub := <-c.Inbox()
		c.SendIntr(ack)

		var params []uint32
		var retCode uint32
		for {
			w := <-c.Inbox()
			if w == loadWordParam {
				params = append(params, <-c.Inbox())
				c.SendIntr(ack)
				continue
			}
			retCode = w
			break
		}
		c.SendIntr(ack)

		switch retCode {
		case RunMethodReturningVoid:
			if toc != 0x40 || sub != 0x80 {
				t.Errorf("scenario A method toc/sub = 0x%x/0x%x, want 0x40/0x80", toc, sub)
			}
			c.SendIntr(returnValueV)

		case RunMethodReturningInt:
			if len(params) != 1 || params[0] != 0xDEADBEEF {
				t.Errorf("scenario B params = %v, want [0xDEADBEEF]", params)
			}
			c.SendIntr(consoleWriteChar)
			c.SendOutbox('X')
			ackWord := <-c.Inbox()
			if ackWord != ack {
				t.Errorf("expected host ACK after console write, got 0x%x", ackWord)
			}
			c.SendIntr(returnValueI)
			c.SendOutbox(0x42)

		case RunMethodReturningLong:
			if len(params) != 2 || params[0] != 0xBBBB || params[1] != 0xAAAA {
				t.Errorf("scenario C params in reverse order = %v, want [0xBBBB, 0xAAAA]", params)
			}
			c.SendIntr(returnValueLUpper)
			c.SendOutbox(0x11112222)
			c.SendIntr(returnValueLLower)
			c.SendOutbox(0x33334444)

		default:
			t.Errorf("fakeGuest: unhandled retCode 0x%x", retCode)
			return
		}
	}
}

func testBootConfig(t *testing.T, dev *simdal.Device, physIDs []uint32, stop <-chan struct{}) BootConfig {
	t.Helper()

	const gotBase = 0x9000
	dev.WriteHostMemory(0x5000, make([]byte, 16))
	dev.WriteHostMemory(0x6000, make([]byte, 16))
	dev.WriteHostMemory(gotBase-16, make([]byte, 32))
	dev.WriteHostMemory(0xA000, make([]byte, tibTableLength))
	dev.WriteHostMemory(0xB000, make([]byte, sizeStaticsTableLn))

	var created int32
	dev.OnContextCreated = func(c *simdal.Context) {
		idx := int(atomic.AddInt32(&created, 1)) - 1
		go fakeGuest(t, c, int64(idx), physIDs[idx], stop)
	}

	physIDResolver := func(gangID int, speID int64) (int, error) {
		return int(physIDs[speID]), nil
	}

	br := &BootRecord{
		GOTBase:                gotBase,
		OOLRuntimeCodeAddr:     0x5000,
		OOLRuntimeCodeLen:      16,
		RuntimeEntryMethodAddr: 0x6000,
		RuntimeEntryMethodLen:  16,
		ClassTIBsAddr:          0xA000,
		StaticsSizeTableAddr:   0xB000,
	}

	return BootConfig{
		Dal:        dev,
		BootRecord: br,
		MaxWorkers: len(physIDs),
		PhysID:     physIDResolver,
		Fatal:      func(workerIdx int, err error) { t.Errorf("fatal on worker %d: %v", workerIdx, err) },
	}
}

func waitSlotComplete(t *testing.T, p *Pool, id int, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if p.slots.isComplete(id) {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("slot %d did not complete within %s", id, timeout)
}

func TestBootOrdersWorkersByPhysID(t *testing.T) {
	dev := simdal.NewDevice(2)
	stop := make(chan struct{})
	defer close(stop)

	// creation order presents speId 0 -> physId 3, speId 1 -> physId 0;
	// after boot's stable reorder, pool index 0 must be the phys-id-0
	// worker (created second) and index 1 the phys-id-3 worker.
	cfg := testBootConfig(t, dev, []uint32{3, 0}, stop)

	pool, err := Boot(cfg)
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}
	defer pool.Stop()

	if pool.PhysID(0) != 0 || pool.PhysID(1) != 3 {
		t.Fatalf("phys ids after reorder = [%d, %d], want [0, 3]", pool.PhysID(0), pool.PhysID(1))
	}
	if !cfg.BootRecord.BootComplete() {
		t.Fatalf("expected BootComplete after successful boot")
	}
}

func TestMigrationScenariosAAndB(t *testing.T) {
	dev := simdal.NewDevice(2)
	stop := make(chan struct{})
	defer close(stop)

	cfg := testBootConfig(t, dev, []uint32{3, 0}, stop)
	pool, err := Boot(cfg)
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}
	defer pool.Stop()

	idA, err := pool.MigrateToSubArch(RunMethodReturningVoid, -1, 0x40, 0x80, nil)
	if err != nil {
		t.Fatalf("submit scenario A: %v", err)
	}
	waitSlotComplete(t, pool, idA, 5*time.Second)

	idB, err := pool.MigrateToSubArch(RunMethodReturningInt, 1, 0x10, 0x20, []uint32{0xDEADBEEF})
	if err != nil {
		t.Fatalf("submit scenario B: %v", err)
	}
	waitSlotComplete(t, pool, idB, 5*time.Second)

	ret, err := pool.GetIntReturn(idB)
	if err != nil {
		t.Fatalf("GetIntReturn: %v", err)
	}
	if ret != 0x42 {
		t.Fatalf("int return = 0x%x, want 0x42", ret)
	}
}

func TestMigrationScenarioCLongReturn(t *testing.T) {
	dev := simdal.NewDevice(1)
	stop := make(chan struct{})
	defer close(stop)

	cfg := testBootConfig(t, dev, []uint32{0}, stop)
	pool, err := Boot(cfg)
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}
	defer pool.Stop()

	id, err := pool.MigrateToSubArch(RunMethodReturningLong, -1, 0, 0, []uint32{0xAAAA, 0xBBBB})
	if err != nil {
		t.Fatalf("submit scenario C: %v", err)
	}
	waitSlotComplete(t, pool, id, 5*time.Second)

	ret, err := pool.GetLongReturn(id)
	if err != nil {
		t.Fatalf("GetLongReturn: %v", err)
	}
	if want := int64(0x1111222233334444); ret != want {
		t.Fatalf("long return = 0x%x, want 0x%x", ret, want)
	}
}
