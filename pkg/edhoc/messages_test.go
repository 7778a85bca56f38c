package edhoc

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/secure-coap/edhoc-go/pkg/protoerr"
	"github.com/secure-coap/edhoc-go/pkg/wire"
)

func TestConnIDEncoding(t *testing.T) {
	tests := []struct {
		id    ConnID
		isInt bool
		enc   []byte
	}{
		{ConnID{0x0c}, true, []byte{0x0c}},
		{ConnID{0x17}, true, []byte{0x17}},
		{ConnID{0x2b}, true, []byte{0x2b}},
		{ConnID{0x18}, false, []byte{0x41, 0x18}},
		{ConnID{0x38}, false, []byte{0x41, 0x38}},
		{ConnID{0x01, 0x02}, false, []byte{0x42, 0x01, 0x02}},
		{ConnID{}, false, []byte{0x40}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.isInt, tt.id.IsInt(), "%x", []byte(tt.id))
		assert.Equal(t, tt.enc, tt.id.Encode(), "%x", []byte(tt.id))

		got, err := readBstrOrInt(wire.NewSequenceReader(tt.enc))
		require.NoError(t, err)
		assert.Equal(t, []byte(tt.id), got)
	}
}

func TestReadBstrOrIntRejectsLongInts(t *testing.T) {
	_, err := readBstrOrInt(wire.NewSequenceReader(wire.MustMarshal(24)))
	assert.ErrorIs(t, err, protoerr.ErrDecode)

	_, err = readBstrOrInt(wire.NewSequenceReader(wire.MustMarshal("x")))
	assert.ErrorIs(t, err, protoerr.ErrDecode)
}

func TestRandomConnID(t *testing.T) {
	id, err := RandomConnID(bytes.NewReader([]byte{200}))
	require.NoError(t, err)
	assert.Equal(t, ConnID{200 % 24}, id)
	assert.True(t, id.IsInt())

	_, err = RandomConnID(bytes.NewReader(nil))
	assert.ErrorIs(t, err, protoerr.ErrCryptoFailure)
}

func TestMessage1Encoding(t *testing.T) {
	gx := bytes.Repeat([]byte{0xaa}, 32)
	m1 := EncodeMessage1(MethodStatStat, []int{2}, gx, ConnID{0x37}, nil)

	assert.Equal(t, byte(0x03), m1[0])
	assert.Equal(t, byte(0x02), m1[1])
	assert.Equal(t, []byte{0x58, 0x20}, m1[2:4])
	assert.Equal(t, byte(0x37), m1[len(m1)-1])

	parsed, err := ParseMessage1(m1)
	require.NoError(t, err)
	assert.Equal(t, MethodStatStat, parsed.Method)
	assert.Equal(t, 2, parsed.Selected)
	assert.Equal(t, gx, parsed.GX)
	assert.Equal(t, ConnID{0x37}, parsed.CI)

	multi := EncodeMessage1(MethodStatStat, []int{6, 2}, gx, ConnID{0x01, 0x02}, []EAD{{Label: 5, Value: []byte{1}}})
	parsed, err = ParseMessage1(multi)
	require.NoError(t, err)
	assert.Equal(t, []int{6, 2}, parsed.SuitesI)
	assert.Equal(t, 2, parsed.Selected)
	assert.Equal(t, []EAD{{Label: 5, Value: []byte{1}}}, parsed.EAD)
}

func TestEADDecoding(t *testing.T) {
	seq := EncodeEAD([]EAD{{Label: 0}, {Label: 7}, {Label: -3, Value: []byte{9}}})
	items, err := ReadEAD(wire.NewSequenceReader(seq))
	require.NoError(t, err)

	assert.Equal(t, []EAD{{Label: 7}, {Label: -3, Value: []byte{9}}}, items)
	assert.ErrorIs(t, checkCritical(items), protoerr.ErrDecode)
	assert.NoError(t, checkCritical(items[:1]))

	_, err = ReadEAD(wire.NewSequenceReader(wire.MustMarshal("label")))
	assert.ErrorIs(t, err, protoerr.ErrDecode)
}

func TestIDCredForms(t *testing.T) {
	byKID := IDCredByKID([]byte{0x0a})
	assert.Equal(t, []byte{0x0a}, byKID.Compact())
	assert.Equal(t, []byte{0xa1, 0x04, 0x41, 0x0a}, byKID.Map)
	assert.Equal(t, byKID.Map, byKID.LookupKey())

	long := IDCredByKID([]byte{0x01, 0x02})
	assert.Equal(t, []byte{0x42, 0x01, 0x02}, long.Compact())

	for _, enc := range [][]byte{byKID.Compact(), byKID.Map, long.Compact()} {
		got, err := ReadIDCred(wire.NewSequenceReader(enc))
		require.NoError(t, err)
		assert.Equal(t, got.Map, got.LookupKey())
	}

	_, err := ReadIDCred(wire.NewSequenceReader(wire.MustMarshal(map[int]int{1: 1})))
	assert.ErrorIs(t, err, protoerr.ErrDecode)
}

func TestProtocolErrorMessages(t *testing.T) {
	perr, ok := parseErrorMessage(EncodeErrorMessage(&ProtocolError{Code: ErrCodeUnspecified, Diagnostic: "busy"}))
	require.True(t, ok)
	assert.Equal(t, "busy", perr.Diagnostic)
	assert.ErrorIs(t, perr, protoerr.ErrDecode)
	assert.Contains(t, perr.Error(), "busy")

	perr, ok = parseErrorMessage(EncodeErrorMessage(&ProtocolError{Code: ErrCodeWrongSuite, SuitesR: []int{2}}))
	require.True(t, ok)
	assert.Equal(t, []int{2}, perr.SuitesR)
	assert.ErrorIs(t, perr, protoerr.ErrUnsupportedSuite)

	_, ok = parseErrorMessage(wire.MustMarshal([]byte{1}))
	assert.False(t, ok)
}

func TestSuiteKDF(t *testing.T) {
	s, err := LookupSuite(SuiteCCM64)
	require.NoError(t, err)

	prk := s.Extract([]byte("salt"), []byte("ikm"))
	assert.Len(t, prk, 32)

	a, err := s.Expand(prk, 0, nil, 16)
	require.NoError(t, err)
	b, err := s.Expand(prk, 1, nil, 16)
	require.NoError(t, err)
	c, err := s.Expand(prk, 0, []byte{}, 16)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, c)

	_, err = LookupSuite(6)
	assert.ErrorIs(t, err, protoerr.ErrUnsupportedSuite)
	assert.Equal(t, []int{SuiteCCM64, SuiteCCM128}, SupportedSuites())
}

func TestTransferModes(t *testing.T) {
	m, ok := ParseTransferMode("by-value")
	assert.True(t, ok)
	assert.Equal(t, ByValue, m)
	assert.Equal(t, "by-reference", ByReference.String())

	_, ok = ParseTransferMode("psk")
	assert.False(t, ok)
	assert.Equal(t, "MESSAGE3_PREPARED", StateMessage3Prepared.String())
}
