package models

import (
	"slices"

	"github.com/miekg/dns"
	"github.com/thenaterhood/spudproxy/resolver"
	"github.com/thenaterhood/spudproxy/wire"
)

// BuildResponse turns a decision into the reply to send. The second return
// is false when the decision is to send nothing from here (drop, or hand
// the query to an upstream resolver).
func BuildResponse(query *wire.Message, decision resolver.Decision) (*wire.Message, bool) {
	switch decision.Action {
	case resolver.ActionAnswer:
		return NewAnswerDnsResponse(query, decision.Answers), true
	case resolver.ActionNotImplemented:
		return NewNotImplementedDnsResponse(query), true
	default:
		return nil, false
	}
}

func NewAnswerDnsResponse(query *wire.Message, answers []resolver.Answer) *wire.Message {
	msg := newReply(query)
	msg.Header.Authoritative = true
	msg.Header.Rcode = dns.RcodeSuccess

	for _, answer := range answers {
		msg.Answers = append(msg.Answers, NewAddressRecord(answer))
	}
	msg.Header.ANCount = uint16(len(msg.Answers))

	return msg
}

func NewNotImplementedDnsResponse(query *wire.Message) *wire.Message {
	msg := newReply(query)
	msg.Header.Rcode = dns.RcodeNotImplemented
	return msg
}

// An A or AAAA record for the answer, depending on the address family.
func NewAddressRecord(answer resolver.Answer) wire.ResourceRecord {
	rr := wire.ResourceRecord{
		Name:  answer.Name,
		Class: dns.ClassINET,
		TTL:   answer.TTL,
	}

	if answer.Address.Is4() {
		a := answer.Address.As4()
		rr.Type = dns.TypeA
		rr.Data = a[:]
	} else {
		aaaa := answer.Address.As16()
		rr.Type = dns.TypeAAAA
		rr.Data = aaaa[:]
	}

	return rr
}

func newReply(query *wire.Message) *wire.Message {
	return &wire.Message{
		Header: wire.Header{
			ID:               query.Header.ID,
			Response:         true,
			Opcode:           query.Header.Opcode,
			RecursionDesired: query.Header.RecursionDesired,
			QDCount:          uint16(len(query.Questions)),
		},
		Questions: slices.Clone(query.Questions),
	}
}
