package querylog

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/thenaterhood/spudproxy/models"
	"github.com/thenaterhood/spudproxy/records"
)

const DefaultWindow = 10 * time.Minute

type QueryLogConfig struct {
	Enable bool
	// How long a name stays in the log after it was last queried.
	Window time.Duration
	Logger *slog.Logger
}

// One queried name and type, aggregated over the log window.
type Entry struct {
	Name     string    `json:"name"`
	Qtype    string    `json:"qtype"`
	Client   string    `json:"client"`
	Outcome  string    `json:"outcome"`
	Count    int       `json:"count"`
	LastSeen time.Time `json:"last_seen"`
}

type QueryLog interface {
	Record(models.DnsExchange) error
	Recent() ([]Entry, error)
	Last() (Entry, bool)
	Close() error
}

func getEntryKey(exchange models.DnsExchange) string {
	return fmt.Sprintf("%s::%d", records.NormalizeName(exchange.Question.Name), exchange.Question.Qtype)
}

func GetQueryLog(config QueryLogConfig) (QueryLog, error) {
	if config.Enable {
		queryLog, err := newBigQueryLog(config)
		if err != nil {
			return &DummyQueryLog{}, err
		}
		return queryLog, nil
	}
	return &DummyQueryLog{}, nil
}
