package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/thenaterhood/spudproxy/app"
	"github.com/thenaterhood/spudproxy/querylog"
	"github.com/thenaterhood/spudproxy/records"
)

type Status struct {
	Running   bool            `json:"running"`
	Records   int             `json:"records"`
	Queries   Stats           `json:"queries"`
	LastQuery *querylog.Entry `json:"last_query,omitempty"`
}

// StatusServer serves read-only JSON views of the listener: its counters,
// the record table and recent queries.
type StatusServer struct {
	dnsServer   *DnsServer
	appState    *app.AppState
	http_server *http.Server
}

func (ss *StatusServer) writeJson(w http.ResponseWriter, value any) {
	w.Header().Set("Content-Type", "application/json")

	body, err := json.Marshal(value)
	if err != nil {
		ss.appState.Log.Warn("failed to json marshal status response", "err", err)
		http.Error(w, "Server error", http.StatusInternalServerError)
		return
	}
	w.Write(body)
}

func (ss *StatusServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := Status{
		Running: ss.dnsServer.Running(),
		Records: ss.appState.Table.Len(),
		Queries: ss.dnsServer.Stats(),
	}

	if last, ok := ss.appState.QueryLog.Last(); ok {
		status.LastQuery = &last
	}

	ss.writeJson(w, status)
}

func (ss *StatusServer) handleRecords(w http.ResponseWriter, r *http.Request) {
	list := []records.Record{}
	for _, entry := range ss.appState.Table.Entries() {
		list = append(list, records.Record{Domain: entry.Domain, IP: entry.Address.String()})
	}

	ss.writeJson(w, list)
}

func (ss *StatusServer) handleQueries(w http.ResponseWriter, r *http.Request) {
	entries, err := ss.appState.QueryLog.Recent()
	if err != nil {
		ss.appState.Log.Warn("failed to read query log", "err", err)
		http.Error(w, "Server error", http.StatusInternalServerError)
		return
	}

	ss.writeJson(w, entries)
}

func (ss *StatusServer) Handler() http.Handler {
	return ss.http_server.Handler
}

func (ss *StatusServer) Start() {
	go func() {
		ss.appState.Log.Info("starting status server", "addr", ss.http_server.Addr)
		err := ss.http_server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			ss.appState.Log.Error("failed to start status server", "error", err.Error())
		}
	}()
}

func (ss *StatusServer) Shutdown(ctx context.Context) error {
	return ss.http_server.Shutdown(ctx)
}

func NewStatusServer(addr string, dnsServer *DnsServer, state *app.AppState) *StatusServer {
	server := &StatusServer{
		dnsServer: dnsServer,
		appState:  state,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", server.handleStatus)
	mux.HandleFunc("GET /records", server.handleRecords)
	mux.HandleFunc("GET /queries", server.handleQueries)

	server.http_server = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return server
}
