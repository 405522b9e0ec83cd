package spuctrl

import "math"

// BindProcessor associates a VM-side processor object with a worker so the
// guest runtime can address it later (spec.md §4.6).
func (p *Pool) BindProcessor(workerIdx int, procObj uint32) error {
	return p.inboxAck(workerIdx, setProcessorReg, procObj)
}

// MigrateToSubArch submits a new migration and returns its slot id (spec.md
// §4.4/§4.6). affinity is -1 for "any worker", otherwise a worker index.
func (p *Pool) MigrateToSubArch(retType RetType, affinity int, methodToc, methodSub uint32, params []uint32) (int, error) {
	return p.slots.submit(retType, affinity, methodToc, methodSub, params)
}

// CheckStatus extracts the slot id from each status word (low bits, per
// maskID) and ORs in subArchReadyBit for every slot that has completed,
// returning a new slice (spec.md §4.6). It is idempotent for any pair of
// calls between which no slot's complete flag flips (spec.md §8 property 6).
func (p *Pool) CheckStatus(status []uint32) []uint32 {
	out := make([]uint32, len(status))
	for i, word := range status {
		id := maskID(int(word))
		out[i] = word
		if p.slots.isComplete(id) {
			out[i] |= subArchReadyBit
		}
	}
	return out
}

// GetIntReturn asserts the slot is complete, returns its int/float/ref
// return word, and releases the slot (spec.md §4.6).
func (p *Pool) GetIntReturn(slotID int) (uint32, error) {
	ret, err := p.slots.harvest(slotID)
	if err != nil {
		return 0, err
	}
	return ret[0], nil
}

// GetFloatReturn reinterprets the harvested word as an IEEE-754 float32.
func (p *Pool) GetFloatReturn(slotID int) (float32, error) {
	ret, err := p.slots.harvest(slotID)
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(ret[0]), nil
}

// GetRefReturn returns the harvested word as a raw reference (object
// pointer, in the guest's address space).
func (p *Pool) GetRefReturn(slotID int) (uint32, error) {
	ret, err := p.slots.harvest(slotID)
	if err != nil {
		return 0, err
	}
	return ret[0], nil
}

// GetLongReturn reassembles the harvested upper/lower words into an int64
// (spec.md §8 scenario C: upper << 32 | lower).
func (p *Pool) GetLongReturn(slotID int) (int64, error) {
	ret, err := p.slots.harvest(slotID)
	if err != nil {
		return 0, err
	}
	return int64(uint64(ret[0])<<32 | uint64(ret[1])), nil
}

// GetDoubleReturn reassembles the harvested upper/lower words into a
// float64.
func (p *Pool) GetDoubleReturn(slotID int) (float64, error) {
	ret, err := p.slots.harvest(slotID)
	if err != nil {
		return 0, err
	}
	bits := uint64(ret[0])<<32 | uint64(ret[1])
	return math.Float64frombits(bits), nil
}
