/* ipcpd - RINA IPC Process Daemon
 *
 * Copyright (C) 2024 RINASharp contributors.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package dtp

import (
	"encoding/binary"
	"errors"
	"strconv"

	"github.com/rysavy-ondrej/RINASharp-sub000/defn"
)

// Version of the data transfer PDU encoding.
const Version = 1

// PduHeaderSize is the size of an encoded PDU without user data.
const PduHeaderSize = 1 + 1 + 1 + 1 + 8 + 8 + 8

// PduType identifies the kind of PDU.
type PduType uint8

// DataTransferPdu carries user data.
const DataTransferPdu PduType = 0x80

// PduFlags mark where a PDU sits inside its SDU.
type PduFlags uint8

// PDU flags.
const (
	FirstFragment PduFlags = 1 << iota
	LastFragment
	// CompleteSdu marks a PDU that carries a whole SDU.
	CompleteSdu = FirstFragment | LastFragment
)

// Error definitions
var (
	ErrShortPdu           = errors.New("PDU is shorter than its header")
	ErrBadPduVersion      = errors.New("unsupported PDU version")
	ErrUnknownPduType     = errors.New("unknown PDU type")
	ErrInvalidPduSize     = errors.New("maximum PDU size must be positive")
	ErrOrphanFragment     = errors.New("fragment without a first fragment")
	ErrIncompleteSdu      = errors.New("SDU abandoned before its last fragment")
	ErrOutOfSequence      = errors.New("fragment out of sequence")
	ErrSduTooLarge        = errors.New("SDU exceeds the reassembly limit")
	ErrDiscardedFragment  = errors.New("fragment of a discarded SDU")
	ErrConnectionMismatch = errors.New("PDU belongs to another connection")
)

// ConnectionId identifies a connection from the point of view of the sender of a PDU.
type ConnectionId struct {
	QosId            uint8
	SourceCepId      defn.CepId
	DestinationCepId defn.CepId
}

// Reverse returns the connection id as seen by the peer.
func (c ConnectionId) Reverse() ConnectionId {
	return ConnectionId{QosId: c.QosId, SourceCepId: c.DestinationCepId, DestinationCepId: c.SourceCepId}
}

func (c ConnectionId) String() string {
	return "(" + strconv.Itoa(int(c.QosId)) + ", " + c.SourceCepId.String() + ", " + c.DestinationCepId.String() + ")"
}

// Segment is a view into a buffer.
type Segment struct {
	buffer []byte
	offset int
	length int
}

// MakeSegment creates a view of length bytes of buffer starting at offset.
func MakeSegment(buffer []byte, offset int, length int) Segment {
	return Segment{buffer: buffer, offset: offset, length: length}
}

// Offset returns the position of the view in its buffer.
func (s Segment) Offset() int {
	return s.offset
}

// Len returns the length of the view.
func (s Segment) Len() int {
	return s.length
}

// Bytes returns the viewed bytes without copying.
func (s Segment) Bytes() []byte {
	return s.buffer[s.offset : s.offset+s.length]
}

// Pdu is a single data transfer protocol data unit.
type Pdu struct {
	Version            uint8
	SourceAddress      defn.Address
	DestinationAddress defn.Address
	ConnectionId       ConnectionId
	Type               PduType
	Flags              PduFlags
	SequenceNumber     uint64
	UserData           Segment
}

// IsFirst returns whether the PDU starts an SDU.
func (p *Pdu) IsFirst() bool {
	return p.Flags&FirstFragment != 0
}

// IsLast returns whether the PDU ends an SDU.
func (p *Pdu) IsLast() bool {
	return p.Flags&LastFragment != 0
}

// CheckConnection returns ErrConnectionMismatch unless the PDU was sent by endpoint source to endpoint
// destination. The QoS id is not compared.
func (p *Pdu) CheckConnection(source defn.CepId, destination defn.CepId) error {
	if p.ConnectionId.SourceCepId != source || p.ConnectionId.DestinationCepId != destination {
		return ErrConnectionMismatch
	}
	return nil
}

func (p *Pdu) String() string {
	return "PDU seq=" + strconv.FormatUint(p.SequenceNumber, 10) + " conn=" + p.ConnectionId.String() +
		" flags=" + strconv.Itoa(int(p.Flags)) + " len=" + strconv.Itoa(p.UserData.Len())
}

// EncodedLength returns the size of the encoded PDU.
func (p *Pdu) EncodedLength() int {
	return PduHeaderSize + p.UserData.Len()
}

// AppendEncode appends the encoding of the PDU to buf. Addresses travel in the enclosing wire message
// and are not part of the PDU encoding.
func (p *Pdu) AppendEncode(buf []byte) []byte {
	buf = append(buf, p.Version, byte(p.Type), byte(p.Flags), p.ConnectionId.QosId)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(p.ConnectionId.SourceCepId))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(p.ConnectionId.DestinationCepId))
	buf = binary.LittleEndian.AppendUint64(buf, p.SequenceNumber)
	return append(buf, p.UserData.Bytes()...)
}

// Encode encodes the PDU into a new buffer.
func (p *Pdu) Encode() []byte {
	return p.AppendEncode(make([]byte, 0, p.EncodedLength()))
}

// DecodePdu decodes a PDU. The user data is a view into raw.
func DecodePdu(raw []byte) (Pdu, error) {
	if len(raw) < PduHeaderSize {
		return Pdu{}, ErrShortPdu
	}
	p := Pdu{
		Version: raw[0],
		Type:    PduType(raw[1]),
		Flags:   PduFlags(raw[2]),
		ConnectionId: ConnectionId{
			QosId:            raw[3],
			SourceCepId:      defn.CepId(binary.LittleEndian.Uint64(raw[4:])),
			DestinationCepId: defn.CepId(binary.LittleEndian.Uint64(raw[12:])),
		},
		SequenceNumber: binary.LittleEndian.Uint64(raw[20:]),
		UserData:       MakeSegment(raw, PduHeaderSize, len(raw)-PduHeaderSize),
	}
	if p.Version != Version {
		return Pdu{}, ErrBadPduVersion
	}
	if p.Type != DataTransferPdu {
		return Pdu{}, ErrUnknownPduType
	}
	return p, nil
}
