/* ipcpd - RINA IPC Process Daemon
 *
 * Copyright (C) 2024 RINASharp contributors.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package wire

import (
	"encoding/binary"
	"math"
	"unicode/utf8"

	"github.com/rysavy-ondrej/RINASharp-sub000/defn"
)

// HeaderWord packs the version into the high byte and the message type into the low byte.
func HeaderWord(t MessageType) uint16 {
	return uint16(Version)<<8 | uint16(t)
}

// Encode encodes a message into a newly allocated buffer.
func Encode(m Message) ([]byte, error) {
	return AppendEncode(make([]byte, 0, 64), m)
}

// AppendEncode appends the encoding of a message to buf.
func AppendEncode(buf []byte, m Message) ([]byte, error) {
	h := m.Head()
	buf = binary.LittleEndian.AppendUint16(buf, HeaderWord(m.Type()))
	buf = AppendAddress(buf, h.SourceAddress)
	buf = AppendAddress(buf, h.DestinationAddress)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(h.DestinationCepId))

	switch v := m.(type) {
	case *ConnectRequest:
		buf = AppendString(buf, v.SourceApplication.String())
		buf = AppendString(buf, v.DestinationApplication.String())
		buf = binary.LittleEndian.AppendUint64(buf, uint64(v.RequesterCepId))
	case *ConnectResponse:
		buf = append(buf, byte(v.Result))
		buf = binary.LittleEndian.AppendUint64(buf, uint64(v.RequesterCepId))
		buf = binary.LittleEndian.AppendUint64(buf, uint64(v.ResponderCepId))
	case *DisconnectRequest:
		buf = binary.LittleEndian.AppendUint32(buf, uint32(v.Flags))
	case *DisconnectResponse:
		buf = binary.LittleEndian.AppendUint32(buf, uint32(v.Flags))
	case *Data:
		if uint64(len(v.Payload)) > math.MaxUint32 {
			return nil, ErrTooLarge
		}
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(v.Payload)))
		buf = append(buf, v.Payload...)
	default:
		return nil, ErrUnknownType
	}
	return buf, nil
}

// AppendString appends a length-prefixed UTF-8 string. The length is a 7-bit varint.
func AppendString(buf []byte, str string) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(str)))
	return append(buf, str...)
}

// AppendAddress appends the family discriminant and the length-prefixed family bytes.
func AppendAddress(buf []byte, a defn.Address) []byte {
	raw := a.Bytes()
	buf = append(buf, byte(a.Family()))
	buf = binary.AppendUvarint(buf, uint64(len(raw)))
	return append(buf, raw...)
}

// Decode decodes exactly one message from wire. Payload bytes are copied, so wire may be reused.
func Decode(wire []byte) (Message, error) {
	r := reader{buf: wire}
	word, err := r.readUint16()
	if err != nil {
		return nil, err
	}
	if word>>8 != Version {
		return nil, ErrBadVersion
	}

	var h Header
	if h.SourceAddress, err = r.readAddress(); err != nil {
		return nil, err
	}
	if h.DestinationAddress, err = r.readAddress(); err != nil {
		return nil, err
	}
	cepId, err := r.readUint64()
	if err != nil {
		return nil, err
	}
	h.DestinationCepId = defn.CepId(cepId)

	var m Message
	switch MessageType(word & 0xFF) {
	case ConnectRequestType:
		m, err = decodeConnectRequest(&r, h)
	case ConnectResponseType:
		m, err = decodeConnectResponse(&r, h)
	case DisconnectRequestType:
		var flags uint32
		flags, err = r.readUint32()
		m = &DisconnectRequest{Header: h, Flags: DisconnectFlags(flags)}
	case DisconnectResponseType:
		var flags uint32
		flags, err = r.readUint32()
		m = &DisconnectResponse{Header: h, Flags: DisconnectFlags(flags)}
	case DataType:
		m, err = decodeData(&r, h)
	default:
		return nil, ErrUnknownType
	}
	if err != nil {
		return nil, err
	}
	if r.remaining() != 0 {
		return nil, ErrTrailingBytes
	}
	return m, nil
}

// PeekType returns the message type of an encoded message without decoding it.
func PeekType(wire []byte) (MessageType, error) {
	if len(wire) < 2 {
		return 0, ErrTruncated
	}
	word := binary.LittleEndian.Uint16(wire)
	if word>>8 != Version {
		return 0, ErrBadVersion
	}
	return MessageType(word & 0xFF), nil
}

func decodeConnectRequest(r *reader, h Header) (Message, error) {
	src, err := r.readString()
	if err != nil {
		return nil, err
	}
	dst, err := r.readString()
	if err != nil {
		return nil, err
	}
	requester, err := r.readUint64()
	if err != nil {
		return nil, err
	}
	return &ConnectRequest{
		Header:                 h,
		SourceApplication:      defn.ParseApplicationNamingInfo(src),
		DestinationApplication: defn.ParseApplicationNamingInfo(dst),
		RequesterCepId:         defn.CepId(requester),
	}, nil
}

func decodeConnectResponse(r *reader, h Header) (Message, error) {
	result, err := r.readUint8()
	if err != nil {
		return nil, err
	}
	requester, err := r.readUint64()
	if err != nil {
		return nil, err
	}
	responder, err := r.readUint64()
	if err != nil {
		return nil, err
	}
	return &ConnectResponse{
		Header:         h,
		Result:         ConnectResult(result),
		RequesterCepId: defn.CepId(requester),
		ResponderCepId: defn.CepId(responder),
	}, nil
}

func decodeData(r *reader, h Header) (Message, error) {
	length, err := r.readUint32()
	if err != nil {
		return nil, err
	}
	raw, err := r.readBytes(uint64(length))
	if err != nil {
		return nil, err
	}
	payload := make([]byte, len(raw))
	copy(payload, raw)
	return &Data{Header: h, Payload: payload}, nil
}

// reader walks an encoded message.
type reader struct {
	buf []byte
	pos int
}

func (r *reader) remaining() int {
	return len(r.buf) - r.pos
}

func (r *reader) readBytes(n uint64) ([]byte, error) {
	if n > uint64(r.remaining()) {
		return nil, ErrTruncated
	}
	out := r.buf[r.pos : r.pos+int(n)]
	r.pos += int(n)
	return out, nil
}

func (r *reader) readUint8() (uint8, error) {
	b, err := r.readBytes(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *reader) readUint16() (uint16, error) {
	b, err := r.readBytes(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *reader) readUint32() (uint32, error) {
	b, err := r.readBytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *reader) readUint64() (uint64, error) {
	b, err := r.readBytes(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (r *reader) readVarNum() (uint64, error) {
	v, n := binary.Uvarint(r.buf[r.pos:])
	if n <= 0 {
		return 0, ErrTruncated
	}
	r.pos += n
	return v, nil
}

func (r *reader) readString() (string, error) {
	length, err := r.readVarNum()
	if err != nil {
		return "", err
	}
	raw, err := r.readBytes(length)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(raw) {
		return "", ErrInvalidString
	}
	return string(raw), nil
}

func (r *reader) readAddress() (defn.Address, error) {
	family, err := r.readUint8()
	if err != nil {
		return defn.Address{}, err
	}
	length, err := r.readVarNum()
	if err != nil {
		return defn.Address{}, err
	}
	raw, err := r.readBytes(length)
	if err != nil {
		return defn.Address{}, err
	}
	if defn.AddressFamily(family) == defn.AddressPipe || defn.AddressFamily(family) == defn.AddressUri {
		if !utf8.Valid(raw) {
			return defn.Address{}, ErrInvalidString
		}
	}
	return defn.MakeAddressFromBytes(defn.AddressFamily(family), raw)
}
