package spuctrl

// Stop implements spec.md §4.7: cancel every worker's boot and support
// thread, destroy event handlers, contexts and the gang, then return once
// everything has joined. It is safe to call more than once; only the first
// call does any work. A migration a support thread is already executing
// runs to its terminal message before that thread exits, so Stop waits for
// it; queued migrations no support thread has taken yet are abandoned with
// no return-value guarantee.
func (p *Pool) Stop() error {
	var firstErr error
	p.stopOnce.Do(func() {
		p.slots.stop()
		p.supportWG.Wait()

		for _, w := range p.workers {
			w.bootCancel()
		}
		for _, w := range p.workers {
			<-w.bootDone
		}

		for i, w := range p.workers {
			if err := p.dal.EventHandlerDestroy(w.evt); err != nil && firstErr == nil {
				firstErr = &ResourceError{Op: "event handler destroy", Err: err}
				p.fatal(i, firstErr)
			}
			if err := p.dal.ContextDestroy(w.ctx); err != nil && firstErr == nil {
				firstErr = &ResourceError{Op: "context destroy", Err: err}
				p.fatal(i, firstErr)
			}
		}
		if err := p.dal.GangDestroy(p.gang); err != nil && firstErr == nil {
			firstErr = &ResourceError{Op: "gang destroy", Err: err}
			p.fatal(-1, firstErr)
		}
	})
	return firstErr
}
