package spuctrl

import "fmt"

// executeMigration runs one migration on workerIdx to completion (spec.md
// §4.5): prepare, drive the mailbox protocol, and mark the slot complete.
// Any error is fatal (spec.md §7) — there is no partial-result path.
func (p *Pool) executeMigration(workerIdx, id int) {
	if err := p.prepareMigration(workerIdx); err != nil {
		p.fatal(workerIdx, err)
		return
	}
	if err := p.runProtocol(workerIdx, id); err != nil {
		p.fatal(workerIdx, err)
		return
	}
	p.slots.markComplete(id)
}

// prepareMigration is spec.md §4.5's Prepare step: bring the worker's GOT
// and class-table mirrors up to date, then fence every outstanding DMA
// (the GOT/TOC reload just issued, plus anything still pending from boot).
func (p *Pool) prepareMigration(workerIdx int) error {
	if err := p.reloadGOT(workerIdx); err != nil {
		return err
	}
	if err := p.loadTocTables(workerIdx); err != nil {
		return err
	}
	if err := p.dal.DMAWait(p.workers[workerIdx].ctx, proxyTagGroupMask); err != nil {
		return &DMAError{Op: "migration prepare fence", Err: err}
	}
	return nil
}

// inboxAck writes words to workerIdx's inbound mailbox and requires an ACK
// back on the interrupt mailbox; a NACK or error subcode is read from the
// ordinary outbox and reported as a ProtocolError (spec.md §4.5).
func (p *Pool) inboxAck(workerIdx int, words ...uint32) error {
	ctx := p.workers[workerIdx].ctx
	if err := p.dal.InboxWrite(ctx, words, AllBlocking); err != nil {
		return &MailboxError{Op: "inbox write", Err: err}
	}
	reply, err := p.dal.IntrOutboxRead(ctx, 1)
	if err != nil {
		return &MailboxError{Op: "ack read", Err: err}
	}
	if reply[0] == ack {
		return nil
	}
	code, err := p.dal.OutboxRead(ctx, 1)
	if err != nil {
		return &MailboxError{Op: "error code read", Err: err}
	}
	return &ProtocolError{Expected: "ACK", Code: code[0]}
}

// runProtocol drives method selection, parameter upload, run, and the
// service loop (spec.md §4.5) for the migration in slot id on workerIdx.
func (p *Pool) runProtocol(workerIdx, id int) error {
	s := &p.slots.slots[id]
	ctx := p.workers[workerIdx].ctx

	if err := p.inboxAck(workerIdx, loadStaticMethod, s.methodClassTocOffset, s.methodSubArchOffset); err != nil {
		return err
	}

	for i := 0; i < s.paramsLength; i++ {
		param := s.paramsStart[s.paramsLength-1-i]
		if err := p.inboxAck(workerIdx, loadWordParam, param); err != nil {
			return err
		}
	}

	if err := p.inboxAck(workerIdx, uint32(s.retType)); err != nil {
		return err
	}

	for {
		sig, err := p.dal.IntrOutboxRead(ctx, 1)
		if err != nil {
			return &MailboxError{Op: "service loop read", Err: err}
		}

		done, err := p.dispatchServiceSignal(workerIdx, s, sig[0])
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

// dispatchServiceSignal handles one service-loop message per spec.md
// §4.5's table. It returns done=true once a terminal RETURN_VALUE_*
// message has been fully received.
func (p *Pool) dispatchServiceSignal(workerIdx int, s *migrationSlot, sig uint32) (done bool, err error) {
	ctx := p.workers[workerIdx].ctx

	switch sig {
	case trapMessage:
		code, err := p.dal.OutboxRead(ctx, 1)
		if err != nil {
			return false, &MailboxError{Op: "trap code read", Err: err}
		}
		return false, &ProtocolError{Expected: "no TRAP_MESSAGE", Code: code[0]}

	case fakeTrapMessage:
		p.fakeTrapMu.Lock()
		fmt.Printf("FT[%d]:> trap\n", workerIdx)
		p.fakeTrapMu.Unlock()
		return false, nil

	case fakeTrapMessageStr:
		idx, err := p.dal.OutboxRead(ctx, 1)
		if err != nil {
			return false, &MailboxError{Op: "fake trap string index read", Err: err}
		}
		i := int(idx[0])
		str := ""
		if p.bootRecord != nil && i >= 0 && i < len(p.bootRecord.FakeTrapStrings) {
			str = p.bootRecord.FakeTrapStrings[i]
		}
		p.fakeTrapMu.Lock()
		fmt.Printf("FT[%d]:> %s\n", workerIdx, str)
		p.fakeTrapMu.Unlock()
		return false, p.replyAck(workerIdx)

	case fakeTrapMessageInt:
		val, err := p.dal.OutboxRead(ctx, 1)
		if err != nil {
			return false, &MailboxError{Op: "fake trap int read", Err: err}
		}
		p.fakeTrapMu.Lock()
		fmt.Printf("FT[%d]:> %d (0x%x)\n", workerIdx, int32(val[0]), val[0])
		p.fakeTrapMu.Unlock()
		return false, p.replyAck(workerIdx)

	case consoleWriteChar:
		val, err := p.dal.OutboxRead(ctx, 1)
		if err != nil {
			return false, &MailboxError{Op: "console char read", Err: err}
		}
		p.console.WriteChar(workerIdx, val[0])
		return false, p.replyAck(workerIdx)

	case consoleWriteInt, consoleWriteIntB, consoleWriteIntHex:
		val, err := p.dal.OutboxRead(ctx, 1)
		if err != nil {
			return false, &MailboxError{Op: "console int read", Err: err}
		}
		p.console.WriteInt(workerIdx, val[0], int(sig-consoleWriteInt))
		return false, p.replyAck(workerIdx)

	case consoleWriteLong, consoleWriteLongB, consoleWriteLongHx:
		words, err := p.dal.OutboxRead(ctx, 2)
		if err != nil {
			return false, &MailboxError{Op: "console long read", Err: err}
		}
		v := uint64(words[0])<<32 | uint64(words[1])
		p.console.WriteLong(workerIdx, v, int(sig-consoleWriteLong))
		return false, p.replyAck(workerIdx)

	case consoleWriteDouble:
		words, err := p.dal.OutboxRead(ctx, 3)
		if err != nil {
			return false, &MailboxError{Op: "console double read", Err: err}
		}
		bits := uint64(words[0])<<32 | uint64(words[1])
		p.console.WriteDouble(workerIdx, bits, words[2])
		return false, p.replyAck(workerIdx)

	case returnValueV:
		return true, nil

	case returnValueI, returnValueF, returnValueR:
		val, err := p.dal.OutboxRead(ctx, 1)
		if err != nil {
			return false, &MailboxError{Op: "return value read", Err: err}
		}
		s.retVal[0] = val[0]
		return true, nil

	case returnValueLUpper, returnValueDUpper:
		val, err := p.dal.OutboxRead(ctx, 1)
		if err != nil {
			return false, &MailboxError{Op: "return value upper read", Err: err}
		}
		s.retVal[0] = val[0]
		s.haveUpper = true
		return false, nil

	case returnValueLLower, returnValueDLower:
		if !s.haveUpper {
			return false, &ProtocolError{Expected: "*_UPPER before *_LOWER", Code: sig}
		}
		val, err := p.dal.OutboxRead(ctx, 1)
		if err != nil {
			return false, &MailboxError{Op: "return value lower read", Err: err}
		}
		s.retVal[1] = val[0]
		return true, nil

	default:
		code, err := p.dal.OutboxRead(ctx, 1)
		if err != nil {
			return false, &MailboxError{Op: "unknown signal error code read", Err: err}
		}
		return false, &ProtocolError{Expected: fmt.Sprintf("known signal, got 0x%x, error", sig), Code: code[0]}
	}
}

// replyAck sends the host's ACK back to the worker after a console/fake
// trap request, with no response expected.
func (p *Pool) replyAck(workerIdx int) error {
	if err := p.dal.InboxWrite(p.workers[workerIdx].ctx, []uint32{ack}, AllBlocking); err != nil {
		return &MailboxError{Op: "ack reply", Err: err}
	}
	return nil
}
