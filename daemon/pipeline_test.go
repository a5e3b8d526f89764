package daemon

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/thenaterhood/spudproxy/app"
	"github.com/thenaterhood/spudproxy/querylog"
	"github.com/thenaterhood/spudproxy/records"
	"github.com/thenaterhood/spudproxy/wire"
)

func getLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(slog.LevelDebug),
	}))
}

func getState(t *testing.T) *app.AppState {
	t.Helper()

	config := app.GetDefaultConfig()
	state := app.NewAppState(&config, getLogger(), nil)

	err := state.Table.Load([]records.Record{{Domain: "blocked.example.com", IP: "10.0.0.1"}})
	if err != nil {
		t.Fatalf("failed to load records: %v", err)
	}

	return state
}

func query(name string) *wire.Message {
	return &wire.Message{
		Header:    wire.Header{ID: 7, QDCount: 1},
		Questions: []wire.Question{{Name: name, Qtype: dns.TypeA, Qclass: dns.ClassINET}},
	}
}

func TestQueryPipelineRecordsQueries(t *testing.T) {
	state := getState(t)

	queryLog, err := querylog.GetQueryLog(querylog.QueryLogConfig{Enable: true, Window: time.Minute, Logger: state.Log})
	if err != nil {
		t.Fatalf("failed to create query log: %v", err)
	}
	defer queryLog.Close()
	state.QueryLog = queryLog

	pipeline := NewQueryPipeline(state)
	if err := pipeline.Start(); err != nil {
		t.Fatalf("failed to start pipeline: %v", err)
	}
	defer pipeline.Stop()

	state.ResolveQuery(query("blocked.example.com."), "192.0.2.10:5353")
	state.ResolveQuery(query("other.example.com."), "192.0.2.10:5353")

	deadline := time.Now().Add(2 * time.Second)
	var entries []querylog.Entry
	for time.Now().Before(deadline) {
		entries, _ = queryLog.Recent()
		if len(entries) == 2 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if len(entries) != 2 {
		t.Fatalf("expected 2 logged queries, got %v", entries)
	}

	outcomes := map[string]string{}
	for _, entry := range entries {
		outcomes[entry.Name] = entry.Outcome
	}
	if outcomes["blocked.example.com."] != "answer" || outcomes["other.example.com."] != "drop" {
		t.Errorf("unexpected outcomes %v", outcomes)
	}
}

func TestQueryPipelineFullDoesNotBlock(t *testing.T) {
	state := getState(t)

	// Stopped, so nothing drains the channel.
	pipeline := NewQueryPipeline(state)
	if err := pipeline.Start(); err != nil {
		t.Fatalf("failed to start pipeline: %v", err)
	}
	pipeline.Stop()

	done := make(chan bool)
	go func() {
		for i := 0; i < pipelineSize*2; i++ {
			state.ResolveQuery(query("blocked.example.com."), "192.0.2.10:5353")
		}
		done <- true
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("resolving blocked on a full pipeline")
	}
}
