package wire

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"

	"github.com/miekg/dns"
	"golang.org/x/net/dns/dnsmessage"
)

func header(id, flags, qd, an, ns, ar uint16) []byte {
	return []byte{
		byte(id >> 8), byte(id),
		byte(flags >> 8), byte(flags),
		byte(qd >> 8), byte(qd),
		byte(an >> 8), byte(an),
		byte(ns >> 8), byte(ns),
		byte(ar >> 8), byte(ar),
	}
}

func packet(parts ...[]byte) []byte {
	return bytes.Join(parts, nil)
}

func labels(count int, size int) []byte {
	out := []byte{}
	for i := 0; i < count; i++ {
		out = append(out, byte(size))
		out = append(out, bytes.Repeat([]byte{'a'}, size)...)
	}
	return out
}

func recordsEqual(a, b []ResourceRecord) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Name != b[i].Name || a[i].Type != b[i].Type || a[i].Class != b[i].Class ||
			a[i].TTL != b[i].TTL || !bytes.Equal(a[i].Data, b[i].Data) {
			return false
		}
	}
	return true
}

func questionsEqual(a, b []Question) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestDecodeQueryFromMiekg(t *testing.T) {
	m := new(dns.Msg)
	m.SetQuestion("Blocked.Example.com.", dns.TypeA)
	m.Id = 0x1234

	packed, err := m.Pack()
	if err != nil {
		t.Fatalf("failed to pack query: %v", err)
	}

	msg, err := Decode(packed)
	if err != nil {
		t.Fatalf("unexpected error decoding query: %v", err)
	}

	if msg.Header.ID != 0x1234 {
		t.Errorf("wrong id: %x", msg.Header.ID)
	}
	if msg.Header.Response || !msg.Header.RecursionDesired || msg.Header.Opcode != dns.OpcodeQuery {
		t.Errorf("unexpected header flags: %+v", msg.Header)
	}
	if msg.Header.QDCount != 1 || len(msg.Questions) != 1 {
		t.Fatalf("expected one question, got %d", len(msg.Questions))
	}

	expected := Question{Name: "Blocked.Example.com.", Qtype: dns.TypeA, Qclass: dns.ClassINET}
	if msg.Questions[0] != expected {
		t.Errorf("question actual = %v, expected = %v", msg.Questions[0], expected)
	}
}

func TestDecodeCompressedMiekgResponse(t *testing.T) {
	m := new(dns.Msg)
	m.SetQuestion("www.example.com.", dns.TypeA)
	m.Response = true
	m.Authoritative = true
	m.Compress = true
	m.Answer = []dns.RR{
		&dns.CNAME{
			Hdr:    dns.RR_Header{Name: "www.example.com.", Rrtype: dns.TypeCNAME, Class: dns.ClassINET, Ttl: 300},
			Target: "edge.example.com.",
		},
		&dns.A{
			Hdr: dns.RR_Header{Name: "edge.example.com.", Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 60},
			A:   net.ParseIP("10.0.0.1"),
		},
	}
	m.Ns = []dns.RR{
		&dns.NS{
			Hdr: dns.RR_Header{Name: "example.com.", Rrtype: dns.TypeNS, Class: dns.ClassINET, Ttl: 3600},
			Ns:  "ns1.example.com.",
		},
	}
	m.Extra = []dns.RR{
		&dns.A{
			Hdr: dns.RR_Header{Name: "ns1.example.com.", Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 3600},
			A:   net.ParseIP("10.0.0.53"),
		},
	}

	packed, err := m.Pack()
	if err != nil {
		t.Fatalf("failed to pack response: %v", err)
	}
	if !bytes.Contains(packed, []byte{0xC0, 12}) {
		t.Fatalf("expected the packed response to use compression")
	}

	msg, err := Decode(packed)
	if err != nil {
		t.Fatalf("unexpected error decoding compressed response: %v", err)
	}

	if len(msg.Answers) != 2 || len(msg.Authorities) != 1 || len(msg.Additionals) != 1 {
		t.Fatalf("wrong section sizes: %d/%d/%d", len(msg.Answers), len(msg.Authorities), len(msg.Additionals))
	}

	names := []string{msg.Answers[0].Name, msg.Answers[1].Name, msg.Authorities[0].Name, msg.Additionals[0].Name}
	expectedNames := []string{"www.example.com.", "edge.example.com.", "example.com.", "ns1.example.com."}
	for i := range names {
		if names[i] != expectedNames[i] {
			t.Errorf("name %d: actual = %s, expected = %s", i, names[i], expectedNames[i])
		}
	}

	if !bytes.Equal(msg.Answers[1].Data, []byte{10, 0, 0, 1}) {
		t.Errorf("unexpected A rdata: %v", msg.Answers[1].Data)
	}
	if msg.Answers[1].TTL != 60 || msg.Additionals[0].TTL != 3600 {
		t.Errorf("unexpected ttls: %d, %d", msg.Answers[1].TTL, msg.Additionals[0].TTL)
	}
}

func TestDecodeCompressedDnsmessageResponse(t *testing.T) {
	name := dnsmessage.MustNewName("example.com.")

	b := dnsmessage.NewBuilder(nil, dnsmessage.Header{ID: 7, Response: true, Authoritative: true})
	b.EnableCompression()
	b.StartQuestions()
	b.Question(dnsmessage.Question{Name: name, Type: dnsmessage.TypeA, Class: dnsmessage.ClassINET})
	b.StartAnswers()
	b.AResource(
		dnsmessage.ResourceHeader{Name: name, Class: dnsmessage.ClassINET, TTL: 60},
		dnsmessage.AResource{A: [4]byte{10, 0, 0, 1}},
	)
	b.AAAAResource(
		dnsmessage.ResourceHeader{Name: name, Class: dnsmessage.ClassINET, TTL: 60},
		dnsmessage.AAAAResource{AAAA: [16]byte{0x20, 0x01, 0x0d, 0xb8, 15: 1}},
	)
	packed, err := b.Finish()
	if err != nil {
		t.Fatalf("failed to build response: %v", err)
	}

	msg, err := Decode(packed)
	if err != nil {
		t.Fatalf("unexpected error decoding response: %v", err)
	}

	if msg.Header.ID != 7 || !msg.Header.Response || !msg.Header.Authoritative {
		t.Errorf("unexpected header: %+v", msg.Header)
	}
	if len(msg.Answers) != 2 {
		t.Fatalf("expected 2 answers, got %d", len(msg.Answers))
	}
	for _, rr := range msg.Answers {
		if rr.Name != "example.com." {
			t.Errorf("compressed answer name decoded as %s", rr.Name)
		}
	}
	if msg.Answers[1].Type != dns.TypeAAAA || len(msg.Answers[1].Data) != 16 {
		t.Errorf("unexpected AAAA record: %+v", msg.Answers[1])
	}
}

func TestHeaderFlagsMatchMiekg(t *testing.T) {
	m := new(dns.Msg)
	m.Id = 99
	m.Response = true
	m.Opcode = dns.OpcodeNotify
	m.Authoritative = true
	m.Truncated = true
	m.RecursionDesired = true
	m.RecursionAvailable = true
	m.Rcode = dns.RcodeNameError

	packed, err := m.Pack()
	if err != nil {
		t.Fatalf("failed to pack message: %v", err)
	}

	msg, err := Decode(packed)
	if err != nil {
		t.Fatalf("unexpected error decoding message: %v", err)
	}

	h := msg.Header
	if !h.Response || h.Opcode != dns.OpcodeNotify || !h.Authoritative || !h.Truncated ||
		!h.RecursionDesired || !h.RecursionAvailable || h.Rcode != dns.RcodeNameError {
		t.Errorf("flags decoded incorrectly: %+v", h)
	}

	encoded, err := Encode(msg)
	if err != nil {
		t.Fatalf("unexpected error encoding message: %v", err)
	}
	if !bytes.Equal(encoded[:HeaderSize], packed[:HeaderSize]) {
		t.Errorf("re-encoded header %x differs from %x", encoded[:HeaderSize], packed[:HeaderSize])
	}
}

func TestSetFlagsInvertsFlags(t *testing.T) {
	for _, flags := range []uint16{0x0000, 0x0100, 0x8180, 0x8583, 0x7FFF, 0xFFFF, 0x2800} {
		t.Run(fmt.Sprintf("flags %04x", flags), func(t *testing.T) {
			h := Header{}
			h.SetFlags(flags)
			if h.Flags() != flags {
				t.Errorf("SetFlags(%04x).Flags() = %04x", flags, h.Flags())
			}
		})
	}
}

func TestRoundTrip(t *testing.T) {
	testCases := map[string]Message{
		"query": {
			Header:    Header{ID: 1, RecursionDesired: true},
			Questions: []Question{{Name: "example.com.", Qtype: dns.TypeA, Qclass: dns.ClassINET}},
		},
		"answer": {
			Header:    Header{ID: 0xBEEF, Response: true, Authoritative: true, RecursionDesired: true},
			Questions: []Question{{Name: "BLOCKED.example.com.", Qtype: dns.TypeA, Qclass: dns.ClassINET}},
			Answers: []ResourceRecord{
				{Name: "BLOCKED.example.com.", Type: dns.TypeA, Class: dns.ClassINET, TTL: 60, Data: []byte{10, 0, 0, 1}},
			},
		},
		"all sections": {
			Header: Header{ID: 7, Response: true, Opcode: 2, Zero: 5, Rcode: dns.RcodeRefused, Truncated: true},
			Questions: []Question{
				{Name: "a.example.", Qtype: dns.TypeAAAA, Qclass: dns.ClassINET},
				{Name: ".", Qtype: dns.TypeNS, Qclass: dns.ClassCHAOS},
			},
			Answers: []ResourceRecord{
				{Name: "a.example.", Type: dns.TypeAAAA, Class: dns.ClassINET, TTL: 1, Data: bytes.Repeat([]byte{1}, 16)},
			},
			Authorities: []ResourceRecord{
				{Name: "example.", Type: dns.TypeTXT, Class: dns.ClassINET, TTL: 4294967295, Data: []byte{3, 'a', 'b', 'c'}},
			},
			Additionals: []ResourceRecord{
				{Name: ".", Type: dns.TypeOPT, Class: 4096, TTL: 0, Data: []byte{}},
			},
		},
		"escaped labels": {
			Header:    Header{ID: 3},
			Questions: []Question{{Name: `dot\.inside.back\\slash.\000\255\032.example.`, Qtype: dns.TypeA, Qclass: dns.ClassINET}},
		},
		"longest name": {
			Header:    Header{ID: 4},
			Questions: []Question{{Name: strings.Repeat(strings.Repeat("a", 63)+".", 3) + strings.Repeat("b", 61) + ".", Qtype: dns.TypeA, Qclass: dns.ClassINET}},
		},
	}

	for name, m := range testCases {
		t.Run(name, func(t *testing.T) {
			packed, err := Encode(&m)
			if err != nil {
				t.Fatalf("unexpected error encoding: %v", err)
			}

			decoded, err := Decode(packed)
			if err != nil {
				t.Fatalf("unexpected error decoding: %v", err)
			}

			expectedHeader := m.Header
			expectedHeader.QDCount = uint16(len(m.Questions))
			expectedHeader.ANCount = uint16(len(m.Answers))
			expectedHeader.NSCount = uint16(len(m.Authorities))
			expectedHeader.ARCount = uint16(len(m.Additionals))

			if decoded.Header != expectedHeader {
				t.Errorf("header actual = %+v, expected = %+v", decoded.Header, expectedHeader)
			}
			if !questionsEqual(decoded.Questions, m.Questions) {
				t.Errorf("questions actual = %v, expected = %v", decoded.Questions, m.Questions)
			}
			if !recordsEqual(decoded.Answers, m.Answers) {
				t.Errorf("answers actual = %v, expected = %v", decoded.Answers, m.Answers)
			}
			if !recordsEqual(decoded.Authorities, m.Authorities) {
				t.Errorf("authorities actual = %v, expected = %v", decoded.Authorities, m.Authorities)
			}
			if !recordsEqual(decoded.Additionals, m.Additionals) {
				t.Errorf("additionals actual = %v, expected = %v", decoded.Additionals, m.Additionals)
			}
		})
	}
}

func TestEncodedNamesAreReadableByMiekg(t *testing.T) {
	m := Message{
		Header:    Header{ID: 42, Response: true, Authoritative: true},
		Questions: []Question{{Name: `odd\.label.example.com.`, Qtype: dns.TypeA, Qclass: dns.ClassINET}},
		Answers: []ResourceRecord{
			{Name: `odd\.label.example.com.`, Type: dns.TypeA, Class: dns.ClassINET, TTL: 60, Data: []byte{10, 0, 0, 1}},
		},
	}

	packed, err := Encode(&m)
	if err != nil {
		t.Fatalf("unexpected error encoding: %v", err)
	}

	parsed := new(dns.Msg)
	if err := parsed.Unpack(packed); err != nil {
		t.Fatalf("miekg could not unpack encoded message: %v", err)
	}

	if parsed.Id != 42 || !parsed.Authoritative || len(parsed.Answer) != 1 {
		t.Fatalf("unexpected message: %v", parsed)
	}
	if parsed.Question[0].Name != `odd\.label.example.com.` {
		t.Errorf("unexpected question name %s", parsed.Question[0].Name)
	}
	if a, ok := parsed.Answer[0].(*dns.A); !ok || a.A.String() != "10.0.0.1" {
		t.Errorf("unexpected answer %v", parsed.Answer[0])
	}
}

func TestEncodeAcceptsNamesWithoutTrailingDot(t *testing.T) {
	withDot, err := Encode(&Message{Questions: []Question{{Name: "example.com.", Qtype: 1, Qclass: 1}}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	withoutDot, err := Encode(&Message{Questions: []Question{{Name: "example.com", Qtype: 1, Qclass: 1}}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !bytes.Equal(withDot, withoutDot) {
		t.Errorf("encodings differ: %x vs %x", withDot, withoutDot)
	}
}

func TestEncodeRejectsInvalidNames(t *testing.T) {
	testCases := map[string]string{
		"empty label":        "a..example.",
		"leading dot":        ".example.",
		"label too long":     strings.Repeat("a", 64) + ".example.",
		"name too long":      strings.Repeat(strings.Repeat("a", 63)+".", 4),
		"bare escape":        `example\`,
		"short escape":       `ex\25`,
		"escape out of byte": `ex\300ample.`,
	}

	for testName, name := range testCases {
		t.Run(testName, func(t *testing.T) {
			_, err := Encode(&Message{Questions: []Question{{Name: name, Qtype: 1, Qclass: 1}}})
			if !errors.Is(err, ErrInvalidName) {
				t.Errorf("expected ErrInvalidName for %q, got %v", name, err)
			}
		})
	}
}

func TestEncodeRejectsOversizedRdata(t *testing.T) {
	_, err := Encode(&Message{Answers: []ResourceRecord{{Name: "example.", Type: 16, Class: 1, Data: make([]byte, 70000)}}})
	if err == nil {
		t.Errorf("expected an error for oversized rdata")
	}
}

func TestDecodeRejectsMalformedPackets(t *testing.T) {
	query := header(1, 0x0100, 1, 0, 0, 0)
	typeAndClass := []byte{0, 1, 0, 1}

	testCases := map[string][]byte{
		"empty":                  {},
		"short header":           header(1, 0, 0, 0, 0, 0)[:11],
		"question count no data": query,
		"counts exceed bytes":    packet(header(1, 0, 100, 0, 0, 0), []byte{1, 'a', 0}, typeAndClass),
		"record counts exceed":   packet(header(1, 0, 0, 65535, 65535, 65535), make([]byte, 64)),
		"label overruns":         packet(query, []byte{5, 'a', 'b', 'c', 'd'}),
		"pointer to itself":      packet(query, []byte{0xC0, 12}, typeAndClass),
		"forward pointer":        packet(query, []byte{0xC0, 14, 0}, typeAndClass),
		"pointer past packet":    packet(query, []byte{0xFF, 0xFF}, typeAndClass),
		"pointer loop":           packet(query, []byte{1, 'a', 0xC0, 12}, typeAndClass),
		"truncated pointer":      packet(query, []byte{1, 'a', 1, 'b', 0xC0}),
		"reserved label type":    packet(query, []byte{0x40, 'a', 0}, typeAndClass),
		"other reserved type":    packet(query, []byte{0x80, 'a', 0}, typeAndClass),
		"missing type and class": packet(query, []byte{1, 'a', 0, 0, 1}),
		"unterminated name":      packet(query, []byte{1, 'a', 1, 'b', 1, 'c'}),
		"name too long":          packet(query, labels(4, 63), []byte{0}, typeAndClass),
		"rdata overruns": packet(
			header(1, 0x8000, 0, 1, 0, 0),
			[]byte{0, 0, 1, 0, 1, 0, 0, 0, 60, 0, 4, 10, 0},
		),
		"record missing fixed fields": packet(
			header(1, 0x8000, 0, 1, 0, 0),
			[]byte{3, 'f', 'o', 'o', 0, 0, 1, 0, 1, 0, 0},
		),
		"second record loops": packet(
			header(1, 0x8000, 1, 1, 0, 0),
			[]byte{1, 'a', 0}, typeAndClass,
			// answer name: label then pointer back to itself's start
			[]byte{1, 'b', 0xC0, 19}, []byte{0, 1, 0, 1, 0, 0, 0, 60, 0, 0},
		),
	}

	for name, data := range testCases {
		t.Run(name, func(t *testing.T) {
			msg, err := Decode(data)
			if err == nil {
				t.Fatalf("expected an error, got %+v", msg)
			}

			var malformedErr MalformedPacketError
			if !errors.As(err, &malformedErr) {
				t.Errorf("expected MalformedPacketError, got %T: %v", err, err)
			}
		})
	}
}

func TestDecodeAcceptsBackwardPointerChains(t *testing.T) {
	// question: example.com at 12; answer: "www" + pointer to 12; additional:
	// "edge" + pointer to the answer name, which itself points further back.
	data := packet(
		header(9, 0x8400, 1, 1, 0, 1),
		[]byte{7, 'e', 'x', 'a', 'm', 'p', 'l', 'e', 3, 'c', 'o', 'm', 0}, []byte{0, 1, 0, 1},
		[]byte{3, 'w', 'w', 'w', 0xC0, 12}, []byte{0, 1, 0, 1, 0, 0, 0, 60, 0, 4, 10, 0, 0, 1},
		[]byte{4, 'e', 'd', 'g', 'e', 0xC0, 29}, []byte{0, 1, 0, 1, 0, 0, 0, 60, 0, 4, 10, 0, 0, 2},
	)

	msg, err := Decode(data)
	if err != nil {
		t.Fatalf("unexpected error decoding pointer chain: %v", err)
	}

	if msg.Answers[0].Name != "www.example.com." {
		t.Errorf("unexpected answer name %s", msg.Answers[0].Name)
	}
	if msg.Additionals[0].Name != "edge.www.example.com." {
		t.Errorf("unexpected additional name %s", msg.Additionals[0].Name)
	}
}

func TestDecodedRdataDoesNotAliasPacket(t *testing.T) {
	data := packet(
		header(1, 0x8000, 0, 1, 0, 0),
		[]byte{0, 0, 1, 0, 1, 0, 0, 0, 60, 0, 4, 10, 0, 0, 1},
	)

	msg, err := Decode(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data[len(data)-1] = 99
	if msg.Answers[0].Data[3] != 1 {
		t.Errorf("rdata changed when the packet buffer was reused")
	}
}

func TestFirstQuestion(t *testing.T) {
	var nilMsg *Message
	if nilMsg.FirstQuestion() != nil {
		t.Errorf("expected nil question for nil message")
	}
	if (&Message{}).FirstQuestion() != nil {
		t.Errorf("expected nil question for empty message")
	}

	m := &Message{Questions: []Question{{Name: "example.com.", Qtype: dns.TypeAAAA, Qclass: dns.ClassINET}}}
	if m.FirstQuestion().String() != "example.com. IN AAAA" {
		t.Errorf("unexpected question string %s", m.FirstQuestion().String())
	}
}
