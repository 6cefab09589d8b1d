/* ipcpd - RINA IPC Process Daemon
 *
 * Copyright (C) 2024 RINASharp contributors.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package dtp

import (
	"sync"

	"github.com/rysavy-ondrej/RINASharp-sub000/defn"
)

// Delimiter splits SDUs of one connection into PDUs no larger than the maximum PDU payload.
type Delimiter struct {
	maxPduSize         int
	sourceAddress      defn.Address
	destinationAddress defn.Address
	connId             ConnectionId

	lock         sync.Mutex
	nextSequence uint64
}

// NewDelimiter creates a delimiter for the given connection. Sequence numbers start at 1.
func NewDelimiter(maxPduSize int, src defn.Address, dst defn.Address, connId ConnectionId) (*Delimiter, error) {
	if maxPduSize <= 0 {
		return nil, ErrInvalidPduSize
	}
	return &Delimiter{
		maxPduSize:         maxPduSize,
		sourceAddress:      src,
		destinationAddress: dst,
		connId:             connId,
		nextSequence:       1,
	}, nil
}

// MaxPduSize returns the maximum user data carried by one PDU.
func (d *Delimiter) MaxPduSize() int {
	return d.maxPduSize
}

// ConnectionId returns the connection the delimiter produces PDUs for.
func (d *Delimiter) ConnectionId() ConnectionId {
	return d.connId
}

// NextSequenceNumber returns the sequence number the next PDU will carry.
func (d *Delimiter) NextSequenceNumber() uint64 {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.nextSequence
}

// Delimit splits sdu into ceil(len(sdu)/MaxPduSize) PDUs. The PDUs view sdu without copying it, so the
// caller must not modify sdu until they are encoded. An empty SDU produces no PDUs.
func (d *Delimiter) Delimit(sdu []byte) []Pdu {
	if len(sdu) == 0 {
		return nil
	}

	nFragments := (len(sdu) + d.maxPduSize - 1) / d.maxPduSize
	lastFragSize := len(sdu) - d.maxPduSize*(nFragments-1)
	pdus := make([]Pdu, nFragments)

	d.lock.Lock()
	defer d.lock.Unlock()
	for i := 0; i < nFragments; i++ {
		size := d.maxPduSize
		if i == nFragments-1 {
			size = lastFragSize
		}
		var flags PduFlags
		if i == 0 {
			flags |= FirstFragment
		}
		if i == nFragments-1 {
			flags |= LastFragment
		}
		pdus[i] = Pdu{
			Version:            Version,
			SourceAddress:      d.sourceAddress,
			DestinationAddress: d.destinationAddress,
			ConnectionId:       d.connId,
			Type:               DataTransferPdu,
			Flags:              flags,
			SequenceNumber:     d.nextSequence,
			UserData:           MakeSegment(sdu, i*d.maxPduSize, size),
		}
		d.nextSequence++
	}
	return pdus
}
