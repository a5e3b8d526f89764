package resolver

import (
	"fmt"
	"log/slog"
	"net/netip"

	"github.com/miekg/dns"
	"github.com/thenaterhood/spudproxy/records"
	"github.com/thenaterhood/spudproxy/wire"
)

const DefaultTtl uint32 = 60

type Action int

const (
	// Send nothing and let another resolver on the network answer.
	ActionDrop Action = iota
	ActionAnswer
	ActionNotImplemented
	ActionForward
)

func (a Action) String() string {
	switch a {
	case ActionAnswer:
		return "answer"
	case ActionNotImplemented:
		return "notimp"
	case ActionForward:
		return "forward"
	default:
		return "drop"
	}
}

type Answer struct {
	Name    string
	Qtype   uint16
	Address netip.Addr
	TTL     uint32
}

type Decision struct {
	Action  Action
	Answers []Answer
	Reason  string
}

type Config struct {
	Table *records.Table
	// TTL on every answer; nil means DefaultTtl. Zero is a valid TTL and
	// is sent as is.
	Ttl *uint32
	// Forward queries nothing in the table answers instead of dropping them.
	Forward bool
	Logger  *slog.Logger
}

type Resolver struct {
	config Config
	ttl    uint32
}

func NewResolver(config Config) *Resolver {
	ttl := DefaultTtl
	if config.Ttl != nil {
		ttl = *config.Ttl
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Resolver{config: config, ttl: ttl}
}

// Resolve decides what to do with one incoming message. It holds no state
// between calls and is safe for concurrent use.
func (r *Resolver) Resolve(query *wire.Message) Decision {
	if query.Header.Response {
		return Decision{Action: ActionDrop, Reason: "message is a response"}
	}

	if query.Header.Opcode != dns.OpcodeQuery {
		return Decision{Action: ActionNotImplemented, Reason: fmt.Sprintf("opcode %d is not supported", query.Header.Opcode)}
	}

	if len(query.Questions) < 1 {
		return Decision{Action: ActionDrop, Reason: "query has no questions"}
	}

	answers := []Answer{}
	for _, question := range query.Questions {
		answer, ok := r.answer(question)
		if ok {
			answers = append(answers, answer)
		}
	}

	if len(answers) > 0 {
		return Decision{Action: ActionAnswer, Answers: answers}
	}

	if r.config.Forward {
		return Decision{Action: ActionForward, Reason: "no match"}
	}

	return Decision{Action: ActionDrop, Reason: "no match"}
}

func (r *Resolver) answer(question wire.Question) (Answer, bool) {
	addr, ok := r.config.Table.Lookup(question.Name)
	if !ok {
		return Answer{}, false
	}

	if question.Qclass != dns.ClassINET && question.Qclass != dns.ClassANY {
		r.config.Logger.Debug("matched name with unsupported class", "qname", question.Name, "qclass", question.Qclass)
		return Answer{}, false
	}

	qtype := dns.TypeAAAA
	if addr.Is4() {
		qtype = dns.TypeA
	}

	if question.Qtype != qtype && question.Qtype != dns.TypeANY {
		r.config.Logger.Debug("matched name with unsupported type", "qname", question.Name, "qtype", question.Qtype)
		return Answer{}, false
	}

	return Answer{
		Name:    question.Name,
		Qtype:   qtype,
		Address: addr,
		TTL:     r.ttl,
	}, true
}
