package frame

import (
	"fmt"
	"math"
)

// Item is one stream position in the queue: a decoded message, or the
// error that took the place of the message that failed to decode.
type Item struct {
	Packet Packet
	Err    error
}

// Framer reassembles arbitrary byte chunks into a FIFO of whole messages.
// It is not safe for concurrent use; one connection feeds one Framer.
type Framer struct {
	signature uint16
	table     Table
	opts      options

	buf      []byte
	queue    []Item
	packets  int
	poisoned bool
}

// maxBody keeps header and body addressable as one int-sized slice.
const maxBody = uint64(math.MaxInt - HeaderLen)

func NewFramer(signature uint16, table Table, opts ...Option) *Framer {
	return &Framer{
		signature: signature,
		table:     table,
		opts:      buildOptions(opts),
	}
}

// Chunk appends b and decodes every complete message now buffered. The
// returned errors are scoped to single messages; later messages still
// decode. Each error is also queued at its stream position for NextItem.
// A header announcing a payload over the limit poisons the stream.
func (f *Framer) Chunk(b []byte) []error {
	if f.poisoned {
		return []error{ErrPoisoned}
	}
	f.buf = append(f.buf, b...)

	var errs []error
	consumed := 0
	for {
		rest := f.buf[consumed:]
		if len(rest) < HeaderLen {
			break
		}
		h, _ := DecodeHeader(rest)
		if h.PayloadLen > f.opts.limits.MaxPayloadBytes || h.PayloadLen > maxBody {
			err := &ParseError{Header: h, Err: ErrPayloadTooLarge}
			errs = append(errs, err)
			f.queue = append(f.queue, Item{Err: err})
			f.poisoned = true
			f.buf = nil
			return errs
		}
		total := HeaderLen + int(h.PayloadLen)
		if len(rest) < total {
			break
		}
		if err := f.decode(h, rest[HeaderLen:total]); err != nil {
			errs = append(errs, err)
			f.queue = append(f.queue, Item{Err: err})
		}
		consumed += total
	}
	if consumed > 0 {
		remaining := len(f.buf) - consumed
		if remaining == 0 {
			f.buf = nil
		} else {
			f.buf = append(make([]byte, 0, remaining), f.buf[consumed:]...)
		}
	}
	return errs
}

func (f *Framer) decode(h Header, body []byte) error {
	if h.Signature != f.signature {
		return &ParseError{
			Header: h,
			Err:    fmt.Errorf("%w: got %#04x want %#04x", ErrSignatureMismatch, h.Signature, f.signature),
		}
	}
	decode, ok := f.table[h.MessageID]
	if !ok {
		return &ParseError{Header: h, Err: ErrUnknownMessage}
	}
	raw, err := f.opts.decodeBody(body)
	if err != nil {
		return &ParseError{Header: h, Err: err}
	}
	msg, err := decode(raw)
	if err != nil {
		return &ParseError{Header: h, Err: err}
	}
	f.queue = append(f.queue, Item{Packet: Packet{Header: h, Message: msg}})
	f.packets++
	return nil
}

// NextItem pops the oldest stream position, message or error alike.
func (f *Framer) NextItem() (Item, bool) {
	if len(f.queue) == 0 {
		return Item{}, false
	}
	it := f.queue[0]
	f.queue[0] = Item{}
	f.queue = f.queue[1:]
	if len(f.queue) == 0 {
		f.queue = nil
	}
	if it.Err == nil {
		f.packets--
	}
	return it, true
}

// Next pops the oldest decoded message, skipping queued errors. Chunk
// already returned those to the caller.
func (f *Framer) Next() (Packet, bool) {
	for {
		it, ok := f.NextItem()
		if !ok {
			return Packet{}, false
		}
		if it.Err == nil {
			return it.Packet, true
		}
	}
}

// Len is the number of decoded messages waiting in the queue.
func (f *Framer) Len() int {
	return f.packets
}

// Buffered is the number of undecoded bytes held back for the next chunk.
func (f *Framer) Buffered() int {
	return len(f.buf)
}

func (f *Framer) Poisoned() bool {
	return f.poisoned
}

// Discard drops queued messages and errors but keeps partially received
// bytes. It returns the number of messages dropped.
func (f *Framer) Discard() int {
	n := f.packets
	f.queue = nil
	f.packets = 0
	return n
}

func (f *Framer) Reset() {
	f.buf = nil
	f.queue = nil
	f.packets = 0
	f.poisoned = false
}
