// Command spuctrlsim boots a small pool of simulated auxiliary processors,
// submits one int migration against them, and prints its result. It exists to exercise the dispatch core end to end
// against the in-process simdal backend without any real Cell hardware or
// libspe2.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rmcilroy/spuctrl"
	"github.com/rmcilroy/spuctrl/simdal"
)

func main() {
	dev := simdal.NewDevice(2)

	dev.WriteHostMemory(0x5000, make([]byte, 16))
	dev.WriteHostMemory(0x6000, make([]byte, 16))
	dev.WriteHostMemory(0x8FF0, make([]byte, 32))
	dev.WriteHostMemory(0xA000, make([]byte, 0x800))
	dev.WriteHostMemory(0xB000, make([]byte, 0x800))

	dev.OnContextCreated = func(c *simdal.Context) {
		go runGuest(c)
	}

	br := &spuctrl.BootRecord{
		GOTBase:                0x9000,
		OOLRuntimeCodeAddr:     0x5000,
		OOLRuntimeCodeLen:      16,
		RuntimeEntryMethodAddr: 0x6000,
		RuntimeEntryMethodLen:  16,
		ClassTIBsAddr:          0xA000,
		StaticsSizeTableAddr:   0xB000,
	}

	pool, err := spuctrl.Boot(spuctrl.BootConfig{
		Dal:        dev,
		BootRecord: br,
		MaxWorkers: 2,
		PhysID:     func(gangID int, speID int64) (int, error) { return int(speID), nil },
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "boot failed: %v\n", err)
		os.Exit(1)
	}
	defer pool.Stop()

	id, err := pool.MigrateToSubArch(spuctrl.RunMethodReturningInt, -1, 0x10, 0x20, []uint32{0xCAFE})
	if err != nil {
		fmt.Fprintf(os.Stderr, "submit failed: %v\n", err)
		os.Exit(1)
	}

	var ret uint32
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		ret, err = pool.GetIntReturn(id)
		if err == nil {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "get return failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("migration returned 0x%x\n", ret)
}

// runGuest plays the guest runtime's side of boot and one int migration
// against a single simulated worker context.
func runGuest(c *simdal.Context) {
	c.SendIntr(0)
	c.SendIntr(0)
	physID := <-c.Inbox()

	<-c.Inbox() // RUNTIME_COPY_COMPLETE
	c.SendIntr(0x11)
	c.SendIntr(physID)

	<-c.Inbox() // LOAD_STATIC_METHOD
	<-c.Inbox() // toc
	<-c.Inbox() // sub
	c.SendIntr(1)

	for {
		w := <-c.Inbox()
		if w == 0x21 { // LOAD_WORD_PARAM
			<-c.Inbox()
			c.SendIntr(1)
			continue
		}
		break // RUN_METHOD_RETURNING_*
	}
	c.SendIntr(1)
	c.SendIntr(0x31) // RETURN_VALUE_I
	c.SendOutbox(0x2A)
}
