// Package echo is the daemon's built-in workload. A client sends Echo and
// receives Response; every assigned connection is told about it through
// Event.
package echo

import (
	"context"
	"fmt"

	"github.com/danmuck/tlvlink/internal/producer"
	"github.com/danmuck/tlvlink/internal/protocol/schema"
	"github.com/danmuck/tlvlink/internal/protocol/tlv"
)

const (
	MsgEcho     = schema.FirstApplicationID
	MsgResponse = schema.FirstApplicationID + 1
	MsgEvent    = schema.FirstApplicationID + 2

	fieldText = schema.FirstApplicationField
	fieldFrom = schema.FirstApplicationField + 1
)

type Echo struct {
	Text string
}

func (Echo) MessageID() uint32 { return MsgEcho }

func (m Echo) MarshalTLV() ([]byte, error) {
	return tlv.NewBuilder().String(fieldText, m.Text).Build()
}

func (m *Echo) UnmarshalTLV(b []byte) error {
	s, err := tlv.Decode(b)
	if err != nil {
		return err
	}
	m.Text, err = s.String(fieldText)
	return err
}

type Response struct {
	Text string
}

func (Response) MessageID() uint32 { return MsgResponse }

func (m Response) MarshalTLV() ([]byte, error) {
	return tlv.NewBuilder().String(fieldText, m.Text).Build()
}

func (m *Response) UnmarshalTLV(b []byte) error {
	s, err := tlv.Decode(b)
	if err != nil {
		return err
	}
	m.Text, err = s.String(fieldText)
	return err
}

// Event announces an echo to every assigned connection. From is the
// sender's assigned key.
type Event struct {
	From string
	Text string
}

func (Event) MessageID() uint32 { return MsgEvent }

func (m Event) MarshalTLV() ([]byte, error) {
	return tlv.NewBuilder().
		String(fieldFrom, m.From).
		String(fieldText, m.Text).
		Build()
}

func (m *Event) UnmarshalTLV(b []byte) error {
	s, err := tlv.Decode(b)
	if err != nil {
		return err
	}
	if m.From, err = s.String(fieldFrom); err != nil {
		return err
	}
	m.Text, err = s.String(fieldText)
	return err
}

// Schemas returns a registry holding the handshake and echo messages.
func Schemas() (*schema.Registry, error) {
	reg := schema.NewRegistry()
	if err := schema.Bind[Echo](reg); err != nil {
		return nil, err
	}
	if err := schema.Bind[Response](reg); err != nil {
		return nil, err
	}
	if err := schema.Bind[Event](reg); err != nil {
		return nil, err
	}
	return reg, nil
}

// Install registers the echo handler on p. Every Response must be paired
// with an Event broadcast.
func Install(p *producer.Producer) error {
	p.RequireBroadcast(MsgResponse, MsgEvent)
	return p.Handle(MsgEcho, Handle)
}

func Handle(ctx context.Context, req producer.Request) (*producer.Response, error) {
	in, ok := req.Message.(*Echo)
	if !ok {
		return nil, fmt.Errorf("echo: unexpected message %T", req.Message)
	}
	return producer.Reply(Response{Text: in.Text}).
		Broadcast(Event{From: req.Key, Text: in.Text}), nil
}
