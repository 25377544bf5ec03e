package sip

import (
	"testing"
	"time"

	"github.com/otus-sngrep/sngcore/internal/otuslog"
)

const sampleInvite = "INVITE sip:bob@example.com SIP/2.0\r\n" +
	"Via: SIP/2.0/UDP pbx.example.com;branch=z9hG4bK776asdhds\r\n" +
	"Max-Forwards: 70\r\n" +
	"To: Bob <sip:bob@example.com>\r\n" +
	"From: Alice <sip:alice@example.com>;tag=1928301774\r\n" +
	"Call-ID: a84b4c76e66710@pc33.example.com\r\n" +
	"CSeq: 314159 INVITE\r\n" +
	"Contact: <sip:alice@pc33.example.com>\r\n" +
	"Content-Length: 0\r\n\r\n"

func newTestParser() *Parser {
	return NewParser(otuslog.Get())
}

func TestParser_ExtractsRequestFields(t *testing.T) {
	p := newTestParser()
	msg, err := p.ParseMessage([]byte(sampleInvite))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.CallID != "a84b4c76e66710@pc33.example.com" {
		t.Fatalf("unexpected call-id: %q", msg.CallID)
	}
	if !msg.IsRequest || msg.Method != "INVITE" {
		t.Fatalf("expected INVITE request, got method=%q isRequest=%v", msg.Method, msg.IsRequest)
	}
	if msg.ViaBranch != "z9hG4bK776asdhds" {
		t.Fatalf("unexpected via branch: %q", msg.ViaBranch)
	}
	if msg.CSeq != "314159 INVITE" {
		t.Fatalf("unexpected cseq: %q", msg.CSeq)
	}
}

func TestRetransmissionDetector_FlagsDuplicateWithinWindow(t *testing.T) {
	d := NewRetransmissionDetector(5 * time.Second)
	defer d.Close()

	msg := &Message{CallID: "abc", CSeq: "1 INVITE", ViaBranch: "z9hG4bK1"}
	base := time.Unix(1_700_000_000, 0)

	if d.Observe(msg, base) {
		t.Fatalf("first observation should not be a retransmission")
	}
	if !d.Observe(msg, base.Add(1*time.Second)) {
		t.Fatalf("second observation within window should be a retransmission")
	}
}

func TestRetransmissionDetector_ForgetsAfterWindow(t *testing.T) {
	d := NewRetransmissionDetector(2 * time.Second)
	defer d.Close()

	msg := &Message{CallID: "abc", CSeq: "1 INVITE", ViaBranch: "z9hG4bK1"}
	base := time.Unix(1_700_000_000, 0)
	d.Observe(msg, base)

	if d.Observe(msg, base.Add(10*time.Second)) {
		t.Fatalf("expected stale observation to not be flagged as retransmission")
	}
}
