//go:build cellspu && cgo

// Package cellspu is the real Cell BE backend: it implements
// spuctrl.Device on top of libspe2, the way the retained boot-image
// runner source (spuCtrl.C) drives the hardware directly. It is excluded
// from ordinary builds by the cellspu build tag — spuctrl itself depends
// only on the Device interface, never on this package, exactly the way
// the teacher's audio_backend_alsa.go sits behind !headless next to a
// headless stub.
package cellspu

/*
#cgo LDFLAGS: -lspe2
#include <libspe2.h>
#include <stdlib.h>
#include <string.h>

static int xspe_cpu_info_get_usable(void) {
	return spe_cpu_info_get(SPE_COUNT_USABLE_SPES, -1);
}
*/
import "C"

import (
	"context"
	"fmt"
	"unsafe"

	"github.com/rmcilroy/spuctrl"
)

// Device is the libspe2-backed Device Abstraction Layer implementation.
type Device struct{}

// New returns a Device talking to the real Cell BE kernel interface.
func New() *Device { return &Device{} }

func (d *Device) UsableWorkerCount() (int, error) {
	n := int(C.xspe_cpu_info_get_usable())
	if n < 0 {
		return 0, fmt.Errorf("spe_cpu_info_get: %v", lastErrno())
	}
	return n, nil
}

// Gang wraps a spe_gang_context handle.
type Gang struct{ g C.spe_gang_context_ptr_t }

func (d *Device) GangCreate() (spuctrl.Gang, error) {
	g := C.spe_gang_context_create(0)
	if g == nil {
		return nil, fmt.Errorf("spe_gang_context_create: %v", lastErrno())
	}
	return &Gang{g: g}, nil
}

func (d *Device) GangDestroy(gang spuctrl.Gang) error {
	g := gang.(*Gang)
	if C.spe_gang_context_destroy(g.g) != 0 {
		return fmt.Errorf("spe_gang_context_destroy: %v", lastErrno())
	}
	return nil
}

// Context wraps a spe_context handle plus the event handle registered
// against it.
type Context struct {
	ctx C.spe_context_ptr_t
	evt *EventHandler
}

func (d *Device) ContextCreate(flags spuctrl.ContextFlags, gang spuctrl.Gang) (spuctrl.Context, error) {
	var cflags C.uint
	if flags&spuctrl.FlagEventsEnable != 0 {
		cflags |= C.SPE_EVENTS_ENABLE
	}
	var g C.spe_gang_context_ptr_t
	if gang != nil {
		g = gang.(*Gang).g
	}
	ctx := C.spe_context_create(cflags, g)
	if ctx == nil {
		return nil, fmt.Errorf("spe_context_create: %v", lastErrno())
	}
	return &Context{ctx: ctx}, nil
}

func (d *Device) ContextDestroy(ctx spuctrl.Context) error {
	c := ctx.(*Context)
	if C.spe_context_destroy(c.ctx) != 0 {
		return fmt.Errorf("spe_context_destroy: %v", lastErrno())
	}
	return nil
}

func (d *Device) ProgramLoad(ctx spuctrl.Context, image spuctrl.Image) error {
	c := ctx.(*Context)
	if len(image.Data) == 0 {
		return nil
	}
	ptr := C.CBytes(image.Data)
	defer C.free(ptr)
	if C.spe_program_load(c.ctx, (*C.spe_program_handle_t)(ptr)) != 0 {
		return fmt.Errorf("spe_program_load: %v", lastErrno())
	}
	return nil
}

func (d *Device) ContextRun(ctx spuctrl.Context, entry uint32) error {
	return d.ContextRunCtx(context.Background(), ctx, entry)
}

// ContextRunCtx blocks in spe_context_run for the worker's entire lifetime;
// libspe2 has no native cancellation, so a cancelled goCtx makes this call
// return at once while the goroutine blocked in spe_context_run stays
// blocked until the context is destroyed (spuctrl.Pool.Stop destroys it
// after this call has returned).
func (d *Device) ContextRunCtx(goCtx context.Context, ctx spuctrl.Context, entry uint32) error {
	c := ctx.(*Context)
	cEntry := C.uint(entry)
	done := make(chan error, 1)
	go func() {
		var status C.int
		rc := C.spe_context_run(c.ctx, &cEntry, 0, nil, nil, &status)
		if rc < 0 {
			done <- fmt.Errorf("spe_context_run: %v", lastErrno())
			return
		}
		done <- nil
	}()
	select {
	case err := <-done:
		return err
	case <-goCtx.Done():
		return goCtx.Err()
	}
}

// EventHandler wraps a spe_event_handler handle bound to one Context.
type EventHandler struct{ h C.spe_event_handler_ptr_t }

func (d *Device) EventHandlerCreate() (spuctrl.EventHandler, error) {
	h := C.spe_event_handler_create()
	if h == nil {
		return nil, fmt.Errorf("spe_event_handler_create: %v", lastErrno())
	}
	return &EventHandler{h: h}, nil
}

func (d *Device) EventHandlerRegister(eh spuctrl.EventHandler, ctx spuctrl.Context) error {
	e := eh.(*EventHandler)
	c := ctx.(*Context)
	var ev C.spe_event_unit_t
	ev.events = C.SPE_EVENT_OUT_INTR_MBOX
	ev.spe = c.ctx
	if C.spe_event_handler_register(e.h, &ev) != 0 {
		return fmt.Errorf("spe_event_handler_register: %v", lastErrno())
	}
	c.evt = e
	return nil
}

func (d *Device) EventHandlerDestroy(eh spuctrl.EventHandler) error {
	e := eh.(*EventHandler)
	if C.spe_event_handler_destroy(e.h) != 0 {
		return fmt.Errorf("spe_event_handler_destroy: %v", lastErrno())
	}
	return nil
}

func (d *Device) InboxWrite(ctx spuctrl.Context, words []uint32, mode spuctrl.MailboxMode) error {
	c := ctx.(*Context)
	var cmode C.uint
	if mode == spuctrl.AnyNonBlocking {
		cmode = C.SPE_MBOX_ANY_NONBLOCKING
	} else {
		cmode = C.SPE_MBOX_ALL_BLOCKING
	}
	n := C.uint(len(words))
	rc := C.spe_in_mbox_write(c.ctx, (*C.uint)(unsafe.Pointer(&words[0])), n, cmode)
	if rc < 0 {
		return fmt.Errorf("spe_in_mbox_write: %v", lastErrno())
	}
	return nil
}

func (d *Device) OutboxRead(ctx spuctrl.Context, n int) ([]uint32, error) {
	c := ctx.(*Context)
	buf := make([]uint32, n)
	rc := C.spe_out_mbox_read(c.ctx, (*C.uint)(unsafe.Pointer(&buf[0])), C.uint(n))
	if int(rc) != n {
		return nil, fmt.Errorf("spe_out_mbox_read: short read (%d of %d): %v", rc, n, lastErrno())
	}
	return buf, nil
}

func (d *Device) IntrOutboxRead(ctx spuctrl.Context, n int) ([]uint32, error) {
	c := ctx.(*Context)
	buf := make([]uint32, n)
	rc := C.spe_out_intr_mbox_read(c.ctx, (*C.uint)(unsafe.Pointer(&buf[0])), C.uint(n), C.SPE_MBOX_ALL_BLOCKING)
	if int(rc) != n {
		return nil, fmt.Errorf("spe_out_intr_mbox_read: short read (%d of %d): %v", rc, n, lastErrno())
	}
	return buf, nil
}

func (d *Device) DMAGet(ctx spuctrl.Context, lsAddr, hostAddr uint32, length int, tag int) error {
	c := ctx.(*Context)
	rc := C.spe_mfcio_get(c.ctx, C.uint(lsAddr), unsafe.Pointer(uintptr(hostAddr)), C.uint(length), C.uint(tag), 0, 0)
	if rc != 0 {
		return fmt.Errorf("spe_mfcio_get: %v", lastErrno())
	}
	return nil
}

func (d *Device) DMAWait(ctx spuctrl.Context, tagMask uint32) error {
	c := ctx.(*Context)
	var status C.uint
	rc := C.spe_mfcio_tag_status_read(c.ctx, C.uint(tagMask), C.SPE_TAG_ALL, &status)
	if rc != 0 {
		return fmt.Errorf("spe_mfcio_tag_status_read: %v", lastErrno())
	}
	return nil
}

func lastErrno() error {
	return fmt.Errorf("errno %d", C.int(*C.__errno_location()))
}
