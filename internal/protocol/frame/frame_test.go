package frame

import (
	"bytes"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/danmuck/tlvlink/internal/protocol/tlv"
)

const (
	testSignature uint16 = 0x5A17
	msgNote       uint32 = 100
	fieldNoteText uint16 = 1
)

type note struct {
	Text string
}

func (note) MessageID() uint32 { return msgNote }

func (n note) MarshalTLV() ([]byte, error) {
	return tlv.NewBuilder().String(fieldNoteText, n.Text).Build()
}

func decodeNote(body []byte) (Message, error) {
	s, err := tlv.Decode(body)
	if err != nil {
		return nil, err
	}
	text, err := s.String(fieldNoteText)
	if err != nil {
		return nil, err
	}
	return note{Text: text}, nil
}

func testTable() Table {
	return Table{msgNote: decodeNote}
}

func fixedClock() time.Time {
	return time.UnixMilli(1760000000000)
}

func packNotes(t *testing.T, env *Envelope, texts ...string) []byte {
	t.Helper()
	var out []byte
	for i, text := range texts {
		b, err := env.Pack(note{Text: text}, uint32(i+1))
		if err != nil {
			t.Fatalf("pack %q: %v", text, err)
		}
		out = append(out, b...)
	}
	return out
}

func drain(f *Framer) []string {
	var out []string
	for {
		p, ok := f.Next()
		if !ok {
			return out
		}
		out = append(out, p.Message.(note).Text)
	}
}

func TestHeaderLayout(t *testing.T) {
	h := Header{MessageID: 1, Signature: 2, Sequence: 3, TimestampMS: 4, PayloadLen: 5}
	b := EncodeHeader(h)
	if len(b) != HeaderLen {
		t.Fatalf("header length %d", len(b))
	}
	want := []byte{
		1, 0, 0, 0,
		2, 0,
		3, 0, 0, 0,
		4, 0, 0, 0, 0, 0, 0, 0,
		5, 0, 0, 0, 0, 0, 0, 0,
	}
	if !bytes.Equal(b, want) {
		t.Fatalf("layout: got %x want %x", b, want)
	}
	got, err := DecodeHeader(b)
	if err != nil {
		t.Fatalf("decode header: %v", err)
	}
	if got != h {
		t.Fatalf("header mismatch: got %+v want %+v", got, h)
	}
	if _, err := DecodeHeader(b[:HeaderLen-1]); !errors.Is(err, ErrShortHeader) {
		t.Fatalf("expected ErrShortHeader, got %v", err)
	}
}

func TestEnvelopePackUnpack(t *testing.T) {
	env := NewEnvelope(testSignature, WithClock(fixedClock))
	b, err := env.Pack(note{Text: "hello"}, 9)
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	h, body, err := env.Unpack(b)
	if err != nil {
		t.Fatalf("unpack: %v", err)
	}
	if h.MessageID != msgNote || h.Sequence != 9 || h.Signature != testSignature {
		t.Fatalf("unexpected header: %+v", h)
	}
	if h.TimestampMS != 1760000000000 {
		t.Fatalf("unexpected timestamp: %d", h.TimestampMS)
	}
	if h.PayloadLen != uint64(len(body)) || len(b) != HeaderLen+len(body) {
		t.Fatalf("payload length mismatch: header=%d body=%d", h.PayloadLen, len(body))
	}
	msg, err := decodeNote(body)
	if err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if msg.(note).Text != "hello" {
		t.Fatalf("unexpected body: %+v", msg)
	}

	if _, _, err := env.Unpack(b[:10]); !errors.Is(err, ErrShortHeader) {
		t.Fatalf("expected ErrShortHeader, got %v", err)
	}
	if _, _, err := env.Unpack(b[:len(b)-1]); !errors.Is(err, ErrTruncated) {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
	other := NewEnvelope(testSignature + 1)
	if _, _, err := other.Unpack(b); !errors.Is(err, ErrSignatureMismatch) {
		t.Fatalf("expected ErrSignatureMismatch, got %v", err)
	}
}

func TestEnvelopeWriteFeedsFramer(t *testing.T) {
	env := NewEnvelope(testSignature)
	var buf bytes.Buffer
	for _, text := range []string{"a", "b"} {
		if err := env.Write(&buf, note{Text: text}, 1); err != nil {
			t.Fatalf("write %q: %v", text, err)
		}
	}
	f := NewFramer(testSignature, testTable())
	if errs := f.Chunk(buf.Bytes()); len(errs) != 0 {
		t.Fatalf("chunk: %v", errs)
	}
	if got := drain(f); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("unexpected messages: %v", got)
	}
}

func TestFramerItemsKeepStreamOrder(t *testing.T) {
	env := NewEnvelope(testSignature)
	bad, err := NewEnvelope(testSignature+1).Pack(note{Text: "bad"}, 2)
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	stream := append(packNotes(t, env, "one"), bad...)
	stream = append(stream, packNotes(t, env, "three")...)

	f := NewFramer(testSignature, testTable())
	if errs := f.Chunk(stream); len(errs) != 1 {
		t.Fatalf("expected one error, got %v", errs)
	}
	if f.Len() != 2 {
		t.Fatalf("expected two queued messages, got %d", f.Len())
	}
	var order []string
	for {
		it, ok := f.NextItem()
		if !ok {
			break
		}
		if it.Err != nil {
			if !errors.Is(it.Err, ErrSignatureMismatch) {
				t.Fatalf("unexpected error item: %v", it.Err)
			}
			order = append(order, "error")
			continue
		}
		order = append(order, it.Packet.Message.(note).Text)
	}
	if len(order) != 3 || order[0] != "one" || order[1] != "error" || order[2] != "three" {
		t.Fatalf("unexpected order: %v", order)
	}
	if f.Len() != 0 {
		t.Fatalf("expected empty queue, got %d", f.Len())
	}
}

func TestFramerOrderIndependentOfChunking(t *testing.T) {
	env := NewEnvelope(testSignature)
	stream := packNotes(t, env, "one", "two", "", "four")

	whole := NewFramer(testSignature, testTable())
	if errs := whole.Chunk(stream); len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	want := drain(whole)
	if len(want) != 4 {
		t.Fatalf("expected 4 messages, got %v", want)
	}

	for _, size := range []int{1, 2, 7, 25, 26, 27, 64} {
		f := NewFramer(testSignature, testTable())
		var got []string
		for off := 0; off < len(stream); off += size {
			end := min(off+size, len(stream))
			if errs := f.Chunk(stream[off:end]); len(errs) != 0 {
				t.Fatalf("size=%d unexpected errors: %v", size, errs)
			}
			got = append(got, drain(f)...)
		}
		if len(got) != len(want) {
			t.Fatalf("size=%d got %v want %v", size, got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("size=%d order mismatch at %d: got %v want %v", size, i, got, want)
			}
		}
		if f.Buffered() != 0 {
			t.Fatalf("size=%d leftover bytes: %d", size, f.Buffered())
		}
	}
}

func TestFramerPartialDelivery(t *testing.T) {
	env := NewEnvelope(testSignature)
	stream := packNotes(t, env, "late")

	f := NewFramer(testSignature, testTable())
	if errs := f.Chunk(stream[:HeaderLen-1]); len(errs) != 0 || f.Len() != 0 {
		t.Fatalf("expected nothing yet, errs=%v len=%d", errs, f.Len())
	}
	if errs := f.Chunk(stream[HeaderLen-1 : HeaderLen+1]); len(errs) != 0 || f.Len() != 0 {
		t.Fatalf("expected nothing with partial body, errs=%v len=%d", errs, f.Len())
	}
	if errs := f.Chunk(stream[HeaderLen+1:]); len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if got := drain(f); len(got) != 1 || got[0] != "late" {
		t.Fatalf("expected exactly one message, got %v", got)
	}
	if _, ok := f.Next(); ok {
		t.Fatalf("message delivered twice")
	}
}

func TestFramerSignatureMismatchSkipsOnlyThatMessage(t *testing.T) {
	bad := packNotes(t, NewEnvelope(testSignature+1), "bad")
	good := packNotes(t, NewEnvelope(testSignature), "good")

	f := NewFramer(testSignature, testTable())
	errs := f.Chunk(append(bad, good...))
	if len(errs) != 1 {
		t.Fatalf("expected one error, got %v", errs)
	}
	if !errors.Is(errs[0], ErrSignatureMismatch) {
		t.Fatalf("expected ErrSignatureMismatch, got %v", errs[0])
	}
	var pe *ParseError
	if !errors.As(errs[0], &pe) || pe.Header.MessageID != msgNote {
		t.Fatalf("expected ParseError with header, got %v", errs[0])
	}
	if got := drain(f); len(got) != 1 || got[0] != "good" {
		t.Fatalf("expected the following message to decode, got %v", got)
	}
}

func TestFramerUnknownAndMalformedBodies(t *testing.T) {
	env := NewEnvelope(testSignature)
	unknown := EncodeHeader(Header{MessageID: 999, Signature: testSignature, PayloadLen: 0})
	malformedBody := []byte{1, 0}
	malformed := append(EncodeHeader(Header{
		MessageID:  msgNote,
		Signature:  testSignature,
		PayloadLen: uint64(len(malformedBody)),
	}), malformedBody...)
	good := packNotes(t, env, "ok")

	f := NewFramer(testSignature, testTable())
	stream := append(append(append([]byte{}, unknown...), malformed...), good...)
	errs := f.Chunk(stream)
	if len(errs) != 2 {
		t.Fatalf("expected two errors, got %v", errs)
	}
	if !errors.Is(errs[0], ErrUnknownMessage) {
		t.Fatalf("expected ErrUnknownMessage, got %v", errs[0])
	}
	if !errors.Is(errs[1], tlv.ErrShortFieldHeader) {
		t.Fatalf("expected tlv error, got %v", errs[1])
	}
	if got := drain(f); len(got) != 1 || got[0] != "ok" {
		t.Fatalf("expected trailing message, got %v", got)
	}
}

func TestFramerLengthBeyondAddressableRange(t *testing.T) {
	f := NewFramer(testSignature, testTable(), WithLimits(Limits{MaxPayloadBytes: math.MaxUint64}))
	h := EncodeHeader(Header{MessageID: msgNote, Signature: testSignature, PayloadLen: math.MaxUint64 - 4})
	errs := f.Chunk(h)
	if len(errs) != 1 || !errors.Is(errs[0], ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", errs)
	}
	if !f.Poisoned() {
		t.Fatalf("expected poisoned framer")
	}
}

func TestFramerOversizePayloadPoisons(t *testing.T) {
	f := NewFramer(testSignature, testTable(), WithLimits(Limits{MaxPayloadBytes: 16}))
	h := EncodeHeader(Header{MessageID: msgNote, Signature: testSignature, PayloadLen: 17})
	errs := f.Chunk(h)
	if len(errs) != 1 || !errors.Is(errs[0], ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", errs)
	}
	if !f.Poisoned() {
		t.Fatalf("expected poisoned framer")
	}
	if errs := f.Chunk([]byte{1}); len(errs) != 1 || !errors.Is(errs[0], ErrPoisoned) {
		t.Fatalf("expected ErrPoisoned, got %v", errs)
	}
	f.Reset()
	if f.Poisoned() {
		t.Fatalf("reset should clear poisoned state")
	}
}

type xorTransform byte

func (x xorTransform) apply(b []byte) []byte {
	out := make([]byte, len(b))
	for i := range b {
		out[i] = b[i] ^ byte(x)
	}
	return out
}

func (x xorTransform) Encode(b []byte) ([]byte, error) { return x.apply(b), nil }
func (x xorTransform) Decode(b []byte) ([]byte, error) { return x.apply(b), nil }

func TestTransformAppliedSymmetrically(t *testing.T) {
	env := NewEnvelope(testSignature, WithTransform(xorTransform(0x5A)))
	stream := packNotes(t, env, "secret")

	plain := NewFramer(testSignature, testTable())
	if errs := plain.Chunk(stream); len(errs) != 1 {
		t.Fatalf("expected untransformed framer to fail, got %v", errs)
	}

	f := NewFramer(testSignature, testTable(), WithTransform(xorTransform(0x5A)))
	if errs := f.Chunk(stream); len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if got := drain(f); len(got) != 1 || got[0] != "secret" {
		t.Fatalf("unexpected messages: %v", got)
	}
}

func TestFramerDiscardKeepsPartialBytes(t *testing.T) {
	env := NewEnvelope(testSignature)
	stream := packNotes(t, env, "a", "b")
	f := NewFramer(testSignature, testTable())
	f.Chunk(stream[:len(stream)-3])
	if f.Len() != 1 {
		t.Fatalf("expected one queued message, got %d", f.Len())
	}
	if n := f.Discard(); n != 1 {
		t.Fatalf("expected one discarded message, got %d", n)
	}
	f.Chunk(stream[len(stream)-3:])
	if got := drain(f); len(got) != 1 || got[0] != "b" {
		t.Fatalf("expected the partial message to complete, got %v", got)
	}
}
