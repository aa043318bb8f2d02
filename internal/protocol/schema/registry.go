package schema

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/danmuck/tlvlink/internal/protocol/frame"
	"github.com/danmuck/tlvlink/internal/protocol/tlv"
)

var (
	ErrDuplicateMessage = errors.New("schema: message id already registered")
	ErrNilDecoder       = errors.New("schema: nil decoder")
)

// Unmarshalable is a pointer to a message struct that decodes itself.
type Unmarshalable[T any] interface {
	*T
	frame.Message
	tlv.Unmarshaler
}

// Decode is a frame.Decoder for any generated message struct. The decoded
// message is returned as a pointer.
func Decode[T any, PT Unmarshalable[T]](body []byte) (frame.Message, error) {
	msg := PT(new(T))
	if err := msg.UnmarshalTLV(body); err != nil {
		return nil, err
	}
	return msg, nil
}

// Registry is the closed id-indexed decode table for one protocol.
type Registry struct {
	mu    sync.RWMutex
	table frame.Table
}

// NewRegistry returns a registry preloaded with the handshake messages.
func NewRegistry() *Registry {
	r := &Registry{table: frame.Table{}}
	r.table[MsgSelfKey] = Decode[SelfKey]
	r.table[MsgSelfKeyResponse] = Decode[SelfKeyResponse]
	r.table[MsgHashRequest] = Decode[HashRequest]
	r.table[MsgHashResponse] = Decode[HashResponse]
	return r
}

func (r *Registry) Register(id uint32, d frame.Decoder) error {
	if d == nil {
		return fmt.Errorf("%w: message_id=%d", ErrNilDecoder, id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.table[id]; ok {
		return fmt.Errorf("%w: message_id=%d", ErrDuplicateMessage, id)
	}
	r.table[id] = d
	return nil
}

// Bind registers T under the id its MessageID method reports.
func Bind[T any, PT Unmarshalable[T]](r *Registry) error {
	id := PT(new(T)).MessageID()
	return r.Register(id, Decode[T, PT])
}

func (r *Registry) Has(id uint32) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.table[id]
	return ok
}

// Table returns a copy of the decode table for a Framer.
func (r *Registry) Table() frame.Table {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(frame.Table, len(r.table))
	for id, d := range r.table {
		out[id] = d
	}
	return out
}

// IDs lists registered message ids in ascending order.
func (r *Registry) IDs() []uint32 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]uint32, 0, len(r.table))
	for id := range r.table {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
