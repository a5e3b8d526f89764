package models

import (
	"time"

	"github.com/thenaterhood/spudproxy/wire"
)

// One handled question, as recorded in the query log.
type DnsExchange struct {
	Question wire.Question
	Client   string
	Outcome  string
	Time     time.Time
}
