// Package wire reads and writes RFC 1035 DNS messages.
//
// Names are held in presentation form and are always fully qualified
// ("example.com.", or "." for the root). Label bytes that would be
// ambiguous in that form are escaped the way zone files escape them:
// "\." and "\\" for dots and backslashes inside a label, "\DDD" for
// anything outside printable ASCII. Decode accepts compressed names;
// Encode always writes names uncompressed.
package wire

import (
	"fmt"

	"github.com/miekg/dns"
)

const (
	HeaderSize = 12

	maxLabelLength = 63
	maxNameLength  = 255

	// Smallest possible question: root name (1) + type (2) + class (2).
	minQuestionSize = 5
	// Smallest possible record: root name (1) + type, class, ttl, rdlength (10).
	minRecordSize = 11
)

type Header struct {
	ID                 uint16
	Response           bool
	Opcode             uint8
	Authoritative      bool
	Truncated          bool
	RecursionDesired   bool
	RecursionAvailable bool
	Zero               uint8
	Rcode              uint8

	// Counts as declared on the wire. Encode ignores these and counts the
	// sections instead.
	QDCount uint16
	ANCount uint16
	NSCount uint16
	ARCount uint16
}

// Flags packs the second header word.
func (h Header) Flags() uint16 {
	var flags uint16

	if h.Response {
		flags |= 1 << 15
	}
	flags |= uint16(h.Opcode&0xF) << 11
	if h.Authoritative {
		flags |= 1 << 10
	}
	if h.Truncated {
		flags |= 1 << 9
	}
	if h.RecursionDesired {
		flags |= 1 << 8
	}
	if h.RecursionAvailable {
		flags |= 1 << 7
	}
	flags |= uint16(h.Zero&0x7) << 4
	flags |= uint16(h.Rcode & 0xF)

	return flags
}

func (h *Header) SetFlags(flags uint16) {
	h.Response = flags&(1<<15) != 0
	h.Opcode = uint8(flags>>11) & 0xF
	h.Authoritative = flags&(1<<10) != 0
	h.Truncated = flags&(1<<9) != 0
	h.RecursionDesired = flags&(1<<8) != 0
	h.RecursionAvailable = flags&(1<<7) != 0
	h.Zero = uint8(flags>>4) & 0x7
	h.Rcode = uint8(flags) & 0xF
}

type Question struct {
	Name   string
	Qtype  uint16
	Qclass uint16
}

func (q Question) String() string {
	return fmt.Sprintf("%s %s %s", q.Name, dns.Class(q.Qclass), dns.Type(q.Qtype))
}

type ResourceRecord struct {
	Name  string
	Type  uint16
	Class uint16
	TTL   uint32
	Data  []byte
}

type Message struct {
	Header      Header
	Questions   []Question
	Answers     []ResourceRecord
	Authorities []ResourceRecord
	Additionals []ResourceRecord
}

func (m *Message) FirstQuestion() *Question {
	if m == nil || len(m.Questions) < 1 {
		return nil
	}
	return &m.Questions[0]
}
