package dtp_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/rysavy-ondrej/RINASharp-sub000/defn"
	"github.com/rysavy-ondrej/RINASharp-sub000/dtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeDelimiter(t *testing.T, maxPduSize int) *dtp.Delimiter {
	src := defn.MakePipeAddress("", "client")
	dst := defn.MakePipeAddress("", "server")
	d, err := dtp.NewDelimiter(maxPduSize, src, dst, dtp.ConnectionId{SourceCepId: 0x10, DestinationCepId: 0x20})
	require.NoError(t, err)
	return d
}

func makeSdu(n int) []byte {
	sdu := make([]byte, n)
	for i := range sdu {
		sdu[i] = byte(i * 7)
	}
	return sdu
}

func TestNewDelimiterRejectsZeroSize(t *testing.T) {
	_, err := dtp.NewDelimiter(0, defn.Address{}, defn.Address{}, dtp.ConnectionId{})
	assert.ErrorIs(t, err, dtp.ErrInvalidPduSize)
}

func TestDelimitCounts(t *testing.T) {
	for _, tc := range []struct {
		length int
		max    int
		count  int
	}{
		{0, 10, 0},
		{1, 10, 1},
		{10, 10, 1},
		{11, 10, 2},
		{25, 10, 3},
		{4096, 1, 4096},
	} {
		d := makeDelimiter(t, tc.max)
		sdu := makeSdu(tc.length)
		pdus := d.Delimit(sdu)
		require.Len(t, pdus, tc.count)

		total := 0
		for i, pdu := range pdus {
			assert.LessOrEqual(t, pdu.UserData.Len(), tc.max)
			assert.Equal(t, uint64(i+1), pdu.SequenceNumber)
			assert.Equal(t, i == 0, pdu.IsFirst())
			assert.Equal(t, i == len(pdus)-1, pdu.IsLast())
			total += pdu.UserData.Len()
		}
		assert.Equal(t, tc.length, total)

		composed := dtp.Compose(pdus)
		if tc.length == 0 {
			assert.Empty(t, composed)
		} else {
			require.Len(t, composed, 1)
			assert.True(t, bytes.Equal(sdu, composed[0]))
		}
	}
}

func TestDelimitSequenceContinuesAcrossSdus(t *testing.T) {
	d := makeDelimiter(t, 4)
	first := d.Delimit(makeSdu(9))
	second := d.Delimit(makeSdu(3))
	require.Len(t, first, 3)
	require.Len(t, second, 1)
	assert.Equal(t, uint64(3), first[2].SequenceNumber)
	assert.Equal(t, uint64(4), second[0].SequenceNumber)
	assert.Equal(t, uint64(5), d.NextSequenceNumber())

	composed := dtp.Compose(append(first, second...))
	require.Len(t, composed, 2)
	assert.Equal(t, makeSdu(9), composed[0])
	assert.Equal(t, makeSdu(3), composed[1])
}

func TestSinglePduIsNotCopied(t *testing.T) {
	d := makeDelimiter(t, 100)
	sdu := makeSdu(20)
	pdus := d.Delimit(sdu)
	require.Len(t, pdus, 1)

	var r dtp.Reassembler
	out, err := r.Push(&pdus[0])
	require.NoError(t, err)
	require.Len(t, out, 20)
	assert.Same(t, &sdu[0], &out[0])
}

func TestReassemblerOrphanAndAbandoned(t *testing.T) {
	d := makeDelimiter(t, 4)
	pdus := d.Delimit(makeSdu(12))
	require.Len(t, pdus, 3)

	var r dtp.Reassembler
	out, err := r.Push(&pdus[1])
	assert.Nil(t, out)
	assert.ErrorIs(t, err, dtp.ErrOrphanFragment)

	out, err = r.Push(&pdus[0])
	assert.Nil(t, out)
	assert.NoError(t, err)
	assert.Equal(t, 1, r.Pending())

	again := d.Delimit(makeSdu(2))
	out, err = r.Push(&again[0])
	assert.ErrorIs(t, err, dtp.ErrIncompleteSdu)
	assert.Equal(t, makeSdu(2), out)
	assert.Equal(t, 0, r.Pending())
}

func TestReassemblerSizeLimit(t *testing.T) {
	d := makeDelimiter(t, 4)
	r := dtp.Reassembler{MaxSduSize: 10}

	pdus := d.Delimit(makeSdu(16))
	require.Len(t, pdus, 4)
	_, err := r.Push(&pdus[0])
	require.NoError(t, err)
	_, err = r.Push(&pdus[1])
	require.NoError(t, err)
	assert.Equal(t, 8, r.PendingBytes())

	out, err := r.Push(&pdus[2])
	assert.Nil(t, out)
	assert.ErrorIs(t, err, dtp.ErrSduTooLarge)
	assert.Equal(t, 0, r.Pending())
	out, err = r.Push(&pdus[3])
	assert.Nil(t, out)
	assert.ErrorIs(t, err, dtp.ErrDiscardedFragment)

	next := d.Delimit(makeSdu(8))
	require.Len(t, next, 2)
	_, err = r.Push(&next[0])
	require.NoError(t, err)
	out, err = r.Push(&next[1])
	require.NoError(t, err)
	assert.Equal(t, makeSdu(8), out)
}

func TestReassemblerBoundsEndlessSdu(t *testing.T) {
	r := dtp.Reassembler{MaxSduSize: 64}
	buf := makeSdu(4)
	first := dtp.Pdu{Flags: dtp.FirstFragment, SequenceNumber: 1, UserData: dtp.MakeSegment(buf, 0, 4)}
	_, err := r.Push(&first)
	require.NoError(t, err)

	tooLarge := 0
	for seq := uint64(2); seq < 10000; seq++ {
		middle := dtp.Pdu{SequenceNumber: seq, UserData: dtp.MakeSegment(buf, 0, 4)}
		_, err := r.Push(&middle)
		if errors.Is(err, dtp.ErrSduTooLarge) {
			tooLarge++
		}
		require.Less(t, r.PendingBytes(), 64)
	}
	assert.Equal(t, 1, tooLarge)
	assert.Equal(t, 0, r.Pending())
}

func TestReassemblerOutOfSequence(t *testing.T) {
	d := makeDelimiter(t, 4)
	pdus := d.Delimit(makeSdu(16))
	require.Len(t, pdus, 4)

	var r dtp.Reassembler
	_, err := r.Push(&pdus[0])
	require.NoError(t, err)
	out, err := r.Push(&pdus[2])
	assert.Nil(t, out)
	assert.ErrorIs(t, err, dtp.ErrOutOfSequence)
	assert.Equal(t, 0, r.Pending())
	_, err = r.Push(&pdus[3])
	assert.ErrorIs(t, err, dtp.ErrDiscardedFragment)

	// Fragments of the next SDU continue the sender's sequence
	next := d.Delimit(makeSdu(6))
	_, err = r.Push(&next[0])
	require.NoError(t, err)
	out, err = r.Push(&next[1])
	require.NoError(t, err)
	assert.Equal(t, makeSdu(6), out)
}

func TestPduCheckConnection(t *testing.T) {
	pdus := makeDelimiter(t, 8).Delimit([]byte("x"))
	require.Len(t, pdus, 1)
	assert.NoError(t, pdus[0].CheckConnection(0x10, 0x20))
	assert.ErrorIs(t, pdus[0].CheckConnection(0x20, 0x10), dtp.ErrConnectionMismatch)
}

func TestPduEncoding(t *testing.T) {
	d := makeDelimiter(t, 8)
	pdus := d.Delimit([]byte("hello, world"))
	require.Len(t, pdus, 2)

	wire := pdus[1].Encode()
	assert.Equal(t, dtp.PduHeaderSize+4, len(wire))
	assert.Equal(t, []byte{dtp.Version, byte(dtp.DataTransferPdu), byte(dtp.LastFragment), 0}, wire[:4])

	decoded, err := dtp.DecodePdu(wire)
	require.NoError(t, err)
	assert.Equal(t, pdus[1].ConnectionId, decoded.ConnectionId)
	assert.Equal(t, uint64(2), decoded.SequenceNumber)
	assert.Equal(t, dtp.LastFragment, decoded.Flags)
	assert.Equal(t, []byte("orld"), decoded.UserData.Bytes())

	_, err = dtp.DecodePdu(wire[:dtp.PduHeaderSize-1])
	assert.ErrorIs(t, err, dtp.ErrShortPdu)

	wire[0] = 9
	_, err = dtp.DecodePdu(wire)
	assert.ErrorIs(t, err, dtp.ErrBadPduVersion)

	wire[0] = dtp.Version
	wire[1] = 0x01
	_, err = dtp.DecodePdu(wire)
	assert.ErrorIs(t, err, dtp.ErrUnknownPduType)
}

func TestConnectionIdReverse(t *testing.T) {
	c := dtp.ConnectionId{QosId: 3, SourceCepId: 1, DestinationCepId: 2}
	r := c.Reverse()
	assert.Equal(t, defn.CepId(2), r.SourceCepId)
	assert.Equal(t, defn.CepId(1), r.DestinationCepId)
	assert.Equal(t, c, r.Reverse())
}
