package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/thenaterhood/spudproxy/metrics"
	"github.com/thenaterhood/spudproxy/models"
	"github.com/thenaterhood/spudproxy/querylog"
	"github.com/thenaterhood/spudproxy/records"
	"github.com/thenaterhood/spudproxy/resolver"
	"github.com/thenaterhood/spudproxy/wire"
)

type AppState struct {
	Table    *records.Table
	Resolver *resolver.Resolver
	// nil unless forwarding is enabled
	Forwarder   resolver.Forwarder
	DnsPipeline *chan models.DnsExchange
	QueryLog    querylog.QueryLog
	Log         *slog.Logger
	Metrics     metrics.MetricsInterface
}

// NewAppState builds the state shared by every listener. The record table
// starts empty; call ReloadRecords to fill it.
func NewAppState(appConfig *AppConfig, log *slog.Logger, appMetrics metrics.MetricsInterface) *AppState {
	if log == nil {
		log = slog.Default()
	}
	if appMetrics == nil {
		appMetrics = metrics.DummyMetrics{}
	}

	table := records.NewTable()
	ttl := appConfig.GetAnswerTtl()

	return &AppState{
		Table: table,
		Resolver: resolver.NewResolver(resolver.Config{
			Table:   table,
			Ttl:     &ttl,
			Forward: appConfig.ForwardUnmatched,
			Logger:  log,
		}),
		QueryLog: &querylog.DummyQueryLog{},
		Log:      log,
		Metrics:  appMetrics,
	}
}

// ReloadRecords swaps in the records appConfig describes. On error the
// table keeps serving what it had.
func (appState *AppState) ReloadRecords(appConfig *AppConfig) error {
	list, err := appConfig.RecordList()
	if err != nil {
		return err
	}

	if err := appState.Table.Load(list); err != nil {
		return err
	}

	appState.Metrics.SetRecordCount(appState.Table.Len())
	appState.Log.Info("loaded records", "count", appState.Table.Len())

	return nil
}

// ResolveQuery decides what to do with a decoded query and builds the reply
// to send for it, if any.
func (appState *AppState) ResolveQuery(query *wire.Message, client string) (*wire.Message, resolver.Decision) {
	timer := appState.Metrics.GetResponseTimer()
	defer appState.Metrics.ObserveTimer(timer)

	decision := appState.Resolver.Resolve(query)

	switch decision.Action {
	case resolver.ActionAnswer:
		appState.Metrics.IncQueriesAnswered()
	case resolver.ActionNotImplemented:
		appState.Metrics.IncQueriesNotImplemented()
	case resolver.ActionForward:
		appState.Metrics.IncQueriesForwarded()
	default:
		appState.Metrics.IncQueriesDropped()
	}

	appState.Log.Debug(
		"handled query",
		"client", client,
		"id", query.Header.ID,
		"action", decision.Action.String(),
		"reason", decision.Reason,
	)

	appState.publish(query, client, decision)

	response, ok := models.BuildResponse(query, decision)
	if !ok {
		return nil, decision
	}
	return response, decision
}

// ForwardQuery relays a raw query to the upstream resolvers and returns the
// raw reply.
func (appState *AppState) ForwardQuery(ctx context.Context, packet []byte) ([]byte, error) {
	if appState.Forwarder == nil {
		return nil, resolver.ErrNoUpstream
	}

	response, err := appState.Forwarder.Forward(ctx, packet)
	if err != nil {
		appState.Metrics.IncQueriesFailed()
		return nil, err
	}
	return response, nil
}

// Hands one exchange per question to the pipeline without ever blocking the
// caller; a full pipeline loses the entry.
func (appState *AppState) publish(query *wire.Message, client string, decision resolver.Decision) {
	if appState.DnsPipeline == nil {
		return
	}

	now := time.Now()
	for _, question := range query.Questions {
		exchange := models.DnsExchange{
			Question: question,
			Client:   client,
			Outcome:  decision.Action.String(),
			Time:     now,
		}

		select {
		case *appState.DnsPipeline <- exchange:
		default:
			appState.Log.Debug("query pipeline full, not logging query", "name", question.Name)
		}
	}
}
