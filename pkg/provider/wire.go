package provider

import (
	"encoding/binary"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

// Wire protocol: each frame is a 4-byte big-endian payload length followed
// by a msgpack-encoded map whose keys are FIX-like tag strings. Tags we do
// not recognise are preserved verbatim in Report.Raw.
const (
	TagClOrdID     = "11"
	TagCumQty      = "14"
	TagExecID      = "17"
	TagOrderQty    = "38"
	TagOrdStatus   = "39"
	TagOrdType     = "40"
	TagOrigClOrdID = "41"
	TagPrice       = "44"
	TagSide        = "54"
	TagSymbol      = "55"
	TagTransactTs  = "60"
	TagAvgPx       = "6"
	TagStopPx      = "99"
	TagTakeProfit  = "9001"
	TagIdemKey     = "9002"
)

// MaxFrameSize bounds a single frame; anything larger is a protocol error.
const MaxFrameSize = 1 << 20

// WriteFrame writes one length-prefixed payload.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("provider: frame too large (%d bytes)", len(payload))
	}
	var head [4]byte
	binary.BigEndian.PutUint32(head[:], uint32(len(payload)))
	if _, err := w.Write(head[:]); err != nil {
		return fmt.Errorf("provider: write frame header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("provider: write frame payload: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed payload.
func ReadFrame(r io.Reader) ([]byte, error) {
	var head [4]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(head[:])
	if n == 0 {
		return nil, nil
	}
	if n > MaxFrameSize {
		return nil, fmt.Errorf("provider: frame of %d bytes exceeds limit", n)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("provider: read frame payload: %w", err)
	}
	return payload, nil
}

// EncodeSubmission renders a submission as a tag map payload.
func EncodeSubmission(sub Submission) ([]byte, error) {
	if sub.ClOrdID == "" {
		return nil, fmt.Errorf("provider: submission without ClOrdID")
	}
	m := map[string]string{
		TagClOrdID:    sub.ClOrdID,
		TagSymbol:     sub.Symbol,
		TagSide:       sub.Side,
		TagOrderQty:   sub.Quantity,
		TagPrice:      sub.Price,
		TagOrdType:    string(sub.Kind),
		TagTransactTs: strconv.FormatInt(sub.TsMs, 10),
	}
	if sub.OrigOrderID != "" {
		m[TagOrigClOrdID] = sub.OrigOrderID
	}
	if sub.StopLoss != "" {
		m[TagStopPx] = sub.StopLoss
	}
	if sub.TakeProfit != "" {
		m[TagTakeProfit] = sub.TakeProfit
	}
	if sub.IdemKey != "" {
		m[TagIdemKey] = sub.IdemKey
	}
	b, err := msgpack.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("provider: encode submission: %w", err)
	}
	return b, nil
}

// DecodeReport parses a report payload. Values arrive as strings or integers
// depending on the venue's encoder; both are accepted.
func DecodeReport(payload []byte) (*Report, error) {
	var m map[string]any
	if err := msgpack.Unmarshal(payload, &m); err != nil {
		return nil, fmt.Errorf("provider: decode report payload: %w", err)
	}
	rpt := &Report{Raw: make(map[string]string, len(m))}
	for tag, v := range m {
		s := stringify(v)
		switch tag {
		case TagClOrdID:
			rpt.ClOrdID = s
		case TagExecID:
			rpt.ExecID = s
		case TagOrdStatus:
			rpt.OrdStatus = NormalizeOrdStatus(s)
		case TagAvgPx:
			rpt.AvgPx = s
		case TagCumQty:
			rpt.CumQty = s
		case TagTransactTs:
			rpt.TsMs, _ = strconv.ParseInt(s, 10, 64)
		default:
			rpt.Raw[tag] = s
		}
	}
	if rpt.ClOrdID == "" {
		return nil, fmt.Errorf("provider: report missing tag %s (ClOrdID)", TagClOrdID)
	}
	if rpt.OrdStatus == "" {
		return nil, fmt.Errorf("provider: report missing tag %s (OrdStatus)", TagOrdStatus)
	}
	return rpt, nil
}

// NormalizeOrdStatus maps wire statuses onto the canonical vocabulary. Both
// the literal words and single-char FIX OrdStatus values are understood.
func NormalizeOrdStatus(s string) string {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "EXECUTED", "FILLED", "2":
		return "EXECUTED"
	case "REJECTED", "8":
		return "REJECTED"
	case "CANCELLED", "CANCELED", "4":
		return "CANCELLED"
	default:
		return strings.ToUpper(strings.TrimSpace(s))
	}
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case uint64:
		return strconv.FormatUint(t, 10)
	case int:
		return strconv.Itoa(t)
	case int8:
		return strconv.FormatInt(int64(t), 10)
	case int16:
		return strconv.FormatInt(int64(t), 10)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case uint8:
		return strconv.FormatUint(uint64(t), 10)
	case uint16:
		return strconv.FormatUint(uint64(t), 10)
	case uint32:
		return strconv.FormatUint(uint64(t), 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case bool:
		return strconv.FormatBool(t)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}
