/* ipcpd - RINA IPC Process Daemon
 *
 * Copyright (C) 2024 RINASharp contributors.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */


package dtp

// Reassembler rebuilds SDUs from the PDUs of one connection. PDUs must arrive in order: fragments of
// one SDU carry consecutive sequence numbers.
type Reassembler struct {
	// MaxSduSize bounds the bytes buffered for an incomplete SDU. Zero means no bound.
	MaxSduSize int

	partial    []Segment
	partialLen int
	nextSeq    uint64
	discarding bool
}

// Pending returns the number of buffered fragments of an incomplete SDU.
func (r *Reassembler) Pending() int {
	return len(r.partial)
}

// PendingBytes returns the number of bytes buffered for an incomplete SDU.
func (r *Reassembler) PendingBytes() int {
	return r.partialLen
}

// Reset drops any incomplete SDU.
func (r *Reassembler) Reset() {
	r.partial = nil
	r.partialLen = 0
}

// discard drops the incomplete SDU and the rest of its fragments.
func (r *Reassembler) discard(pdu *Pdu) {
	r.Reset()
	r.discarding = !pdu.IsLast()
}

// Push adds a PDU. It returns the SDU once its last fragment arrives, or nil while the SDU is incomplete.
// A PDU carrying a whole SDU is returned as a view without copying.
//
// ErrIncompleteSdu is returned together with a valid result when a first fragment replaced an unfinished
// SDU. ErrOrphanFragment, ErrOutOfSequence and ErrSduTooLarge mean the PDU was dropped; after the
// latter two the remaining fragments of the SDU are dropped with ErrDiscardedFragment.
func (r *Reassembler) Push(pdu *Pdu) ([]byte, error) {
	var err error
	switch {
	case pdu.IsFirst():
		r.discarding = false
		if len(r.partial) > 0 {
			r.Reset()
			err = ErrIncompleteSdu
		}
	case r.discarding:
		r.discarding = !pdu.IsLast()
		return nil, ErrDiscardedFragment
	case len(r.partial) == 0:
		return nil, ErrOrphanFragment
	case pdu.SequenceNumber != r.nextSeq:
		r.discard(pdu)
		return nil, ErrOutOfSequence
	}

	if pdu.IsFirst() && pdu.IsLast() {
		return pdu.UserData.Bytes(), err
	}

	if r.MaxSduSize > 0 && r.partialLen+pdu.UserData.Len() >= r.MaxSduSize {
		r.discard(pdu)
		return nil, ErrSduTooLarge
	}
	r.partial = append(r.partial, pdu.UserData)
	r.partialLen += pdu.UserData.Len()
	r.nextSeq = pdu.SequenceNumber + 1
	if !pdu.IsLast() {
		return nil, err
	}

	sdu := make([]byte, 0, r.partialLen)
	for _, fragment := range r.partial {
		sdu = append(sdu, fragment.Bytes()...)
	}
	r.Reset()
	return sdu, err
}

// Compose reassembles the SDUs carried by pdus. Fragments that cannot be placed are skipped.
func Compose(pdus []Pdu) [][]byte {
	var r Reassembler
	var sdus [][]byte
	for i := range pdus {
		if sdu, _ := r.Push(&pdus[i]); sdu != nil {
			sdus = append(sdus, sdu)
		}
	}
	return sdus
}
