// Package sip extracts Call-ID/CSeq/From/To/Via and method/status from SIP
// messages already isolated by internal/decoder's boundary detector. Field
// extraction delegates to gosip's own message parser rather than
// hand-rolling a header tokenizer, grounded on the teacher's
// plugins/reporter/skywalkingtracing/message.go which wraps
// parser.NewPacketParser(...).ParseMessage(data) the same way.
package sip

import (
	"strings"

	"github.com/ghettovoice/gosip/sip"
	"github.com/ghettovoice/gosip/sip/parser"

	"github.com/otus-sngrep/sngcore/internal/otuslog"
)

// Message is the decoded view of one SIP request or response this package
// hands to storage and the HEP encoder.
type Message struct {
	CallID      string
	CSeq        string
	Method      string // request method, or "" for a response
	StatusCode  int    // response status, or 0 for a request
	From        string
	To          string
	ViaBranch   string
	Headers     map[string]string
	StartLine   string
	Body        []byte
	IsRequest   bool
	RawMessage  sip.Message
}

// Parser wraps gosip's PacketParser for one capture input. gosip's parser
// keeps no cross-call state so a single Parser is safe to reuse across an
// input's whole lifetime.
type Parser struct {
	delegate *parser.PacketParser
}

// NewParser builds a Parser that logs through log.
func NewParser(log otuslog.Logger) *Parser {
	adapter := &otuslog.GosipAdapter{Logger: log}
	return &Parser{delegate: parser.NewPacketParser(adapter)}
}

// ParseMessage parses one already-delimited SIP message (the output of
// internal/decoder.SIPBoundaryDetector.Extract) into a Message.
func (p *Parser) ParseMessage(data []byte) (*Message, error) {
	msg, err := p.delegate.ParseMessage(data)
	if err != nil {
		return nil, err
	}
	return fromGosip(msg), nil
}

func fromGosip(msg sip.Message) *Message {
	m := &Message{
		Headers:    make(map[string]string),
		StartLine:  msg.StartLine(),
		Body:       []byte(msg.Body()),
		RawMessage: msg,
	}

	for _, h := range msg.Headers() {
		m.Headers[h.Name()] = h.Value()
	}

	if id, ok := msg.CallID(); ok {
		m.CallID = id.Value()
	}
	if cseq, ok := msg.CSeq(); ok {
		m.CSeq = cseq.Value()
	}
	if from, ok := msg.From(); ok {
		m.From = from.Value()
	}
	if to, ok := msg.To(); ok {
		m.To = to.Value()
	}
	if via, ok := msg.Via(); ok {
		m.ViaBranch = branchFromVia(via.Value())
	}

	if req, ok := msg.(sip.Request); ok {
		m.IsRequest = true
		m.Method = string(req.Method())
	} else if res, ok := msg.(sip.Response); ok {
		m.StatusCode = int(res.StatusCode())
	}

	return m
}

// branchFromVia extracts the branch= parameter from a Via header value,
// following utils.GetBranchFromVia's convention in the teacher tree.
func branchFromVia(via string) string {
	const key = "branch="
	idx := strings.Index(via, key)
	if idx < 0 {
		return ""
	}
	rest := via[idx+len(key):]
	if end := strings.IndexAny(rest, " ;,"); end >= 0 {
		rest = rest[:end]
	}
	return rest
}
