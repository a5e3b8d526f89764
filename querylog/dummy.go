package querylog

import "github.com/thenaterhood/spudproxy/models"

type DummyQueryLog struct{}

func (q *DummyQueryLog) Record(models.DnsExchange) error { return nil }
func (q *DummyQueryLog) Recent() ([]Entry, error)        { return []Entry{}, nil }
func (q *DummyQueryLog) Last() (Entry, bool)             { return Entry{}, false }
func (q *DummyQueryLog) Close() error                    { return nil }
