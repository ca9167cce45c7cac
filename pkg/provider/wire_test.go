package provider

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("hello frames")

	require.NoError(t, WriteFrame(&buf, payload))
	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	// A second read hits EOF cleanly.
	_, err = ReadFrame(&buf)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadFrame_RejectsOversizedHeader(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0xff, 0xff, 0xff, 0xff})
	_, err := ReadFrame(&buf)
	assert.Error(t, err, "length beyond MaxFrameSize must be refused")
}

func TestWriteFrame_RejectsOversizedPayload(t *testing.T) {
	err := WriteFrame(io.Discard, make([]byte, MaxFrameSize+1))
	assert.Error(t, err)
}

func TestEncodeSubmission_TagMap(t *testing.T) {
	sub := Submission{
		Kind:        KindClose,
		ClOrdID:     "CLS20240101000007",
		OrigOrderID: "1000000000000042",
		Symbol:      "EURUSD",
		Side:        "SELL",
		Quantity:    "0.30",
		Price:       "1.10002",
		IdemKey:     "close:1000000000000042",
		TsMs:        1720000000123,
	}
	payload, err := EncodeSubmission(sub)
	require.NoError(t, err)

	var m map[string]string
	require.NoError(t, msgpack.Unmarshal(payload, &m))
	assert.Equal(t, "CLS20240101000007", m[TagClOrdID])
	assert.Equal(t, "1000000000000042", m[TagOrigClOrdID])
	assert.Equal(t, "EURUSD", m[TagSymbol])
	assert.Equal(t, "SELL", m[TagSide])
	assert.Equal(t, "0.30", m[TagOrderQty])
	assert.Equal(t, "1.10002", m[TagPrice])
	assert.Equal(t, string(KindClose), m[TagOrdType])
	assert.Equal(t, "close:1000000000000042", m[TagIdemKey])
	assert.Equal(t, "1720000000123", m[TagTransactTs])
	assert.NotContains(t, m, TagStopPx, "empty optional tags are omitted")
}

func TestEncodeSubmission_RequiresClOrdID(t *testing.T) {
	_, err := EncodeSubmission(Submission{Kind: KindNew, Symbol: "EURUSD"})
	assert.Error(t, err)
}

func TestDecodeReport_MixedValueTypes(t *testing.T) {
	payload, err := msgpack.Marshal(map[string]any{
		TagClOrdID:    "1000000000000042",
		TagExecID:     "E-77f2",
		TagOrdStatus:  "FILLED",
		TagAvgPx:      1.10005,
		TagCumQty:     "0.30",
		TagTransactTs: int64(1720000000123),
		"9999":        int64(7),
	})
	require.NoError(t, err)

	rpt, err := DecodeReport(payload)
	require.NoError(t, err)
	assert.Equal(t, "1000000000000042", rpt.ClOrdID)
	assert.Equal(t, "E-77f2", rpt.ExecID)
	assert.Equal(t, "EXECUTED", rpt.OrdStatus, "FILLED normalises to EXECUTED")
	assert.Equal(t, "1.10005", rpt.AvgPx)
	assert.Equal(t, "0.30", rpt.CumQty)
	assert.Equal(t, int64(1720000000123), rpt.TsMs)
	assert.Equal(t, "7", rpt.Raw["9999"], "unknown tags survive in Raw")
}

func TestDecodeReport_MissingMandatoryTags(t *testing.T) {
	noStatus, err := msgpack.Marshal(map[string]any{TagClOrdID: "1"})
	require.NoError(t, err)
	_, err = DecodeReport(noStatus)
	assert.Error(t, err)

	noID, err := msgpack.Marshal(map[string]any{TagOrdStatus: "2"})
	require.NoError(t, err)
	_, err = DecodeReport(noID)
	assert.Error(t, err)
}

func TestNormalizeOrdStatus(t *testing.T) {
	cases := map[string]string{
		"executed":  "EXECUTED",
		"Filled":    "EXECUTED",
		"2":         "EXECUTED",
		"REJECTED":  "REJECTED",
		"8":         "REJECTED",
		"cancelled": "CANCELLED",
		"CANCELED":  "CANCELLED",
		"4":         "CANCELLED",
		" pending ": "PENDING",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeOrdStatus(in), "input %q", in)
	}
}

func TestSubmissionRoundTripOverFrames(t *testing.T) {
	var conn bytes.Buffer
	sub := Submission{
		Kind:     KindNew,
		ClOrdID:  "1000000000000099",
		Symbol:   "XAUUSD",
		Side:     "BUY",
		Quantity: "2",
		Price:    "2400.15",
		StopLoss: "2390.00",
		TsMs:     1720000001000,
	}
	payload, err := EncodeSubmission(sub)
	require.NoError(t, err)
	require.NoError(t, WriteFrame(&conn, payload))

	got, err := ReadFrame(&conn)
	require.NoError(t, err)

	var m map[string]string
	require.NoError(t, msgpack.Unmarshal(got, &m))
	assert.Equal(t, sub.ClOrdID, m[TagClOrdID])
	assert.Equal(t, "2390.00", m[TagStopPx])
}
