package sdp

import "testing"

const sampleSDP = "v=0\r\n" +
	"o=alice 2890844526 2890844526 IN IP4 192.0.2.1\r\n" +
	"s=-\r\n" +
	"c=IN IP4 192.0.2.1\r\n" +
	"t=0 0\r\n" +
	"m=audio 49170 RTP/AVP 0 8 101\r\n" +
	"a=rtpmap:0 PCMU/8000\r\n" +
	"a=rtpmap:8 PCMA/8000\r\n" +
	"a=rtpmap:101 telephone-event/8000\r\n"

func TestParseBody_ExtractsConnectionAndMedia(t *testing.T) {
	sess, err := ParseBody([]byte(sampleSDP))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sess.ConnectionIP.String() != "192.0.2.1" {
		t.Fatalf("unexpected connection ip: %v", sess.ConnectionIP)
	}
	if len(sess.Media) != 1 {
		t.Fatalf("expected one media line, got %d", len(sess.Media))
	}
	m := sess.Media[0]
	if m.Type != "audio" || m.Port != 49170 || m.Protocol != "RTP/AVP" {
		t.Fatalf("unexpected media line: %+v", m)
	}
	if len(m.Codecs) != 3 {
		t.Fatalf("expected 3 codecs, got %d", len(m.Codecs))
	}
	if m.Codecs[0].Name != "PCMU" || m.Codecs[0].ClockRate != 8000 {
		t.Fatalf("unexpected codec 0: %+v", m.Codecs[0])
	}
}

func TestParseBody_IgnoresUnknownLines(t *testing.T) {
	body := "v=0\r\nx=unknown\r\nz=also-unknown\r\n"
	sess, err := ParseBody([]byte(body))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sess.Media) != 0 {
		t.Fatalf("expected no media lines")
	}
}
