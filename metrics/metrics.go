package metrics

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
)

const DefaultPort = 2112

type MetricsConfig struct {
	Enable bool
	// Listen address for the /metrics endpoint, e.g. ":2112".
	Addr   string
	Logger *slog.Logger
}

type MetricsInterface interface {
	IncQueriesReceived()
	IncQueriesAnswered()
	IncQueriesDropped()
	IncQueriesForwarded()
	IncQueriesFailed()
	IncQueriesNotImplemented()
	IncMalformedPackets()
	SetRecordCount(int)
	GetForwardTimer() *prometheus.Timer
	GetResponseTimer() *prometheus.Timer
	ObserveTimer(*prometheus.Timer)
	Start() error
	Shutdown(context.Context) error
}

func GetMetrics(config MetricsConfig) MetricsInterface {
	if config.Enable {
		return newPrometheus(config)
	}
	return DummyMetrics{}
}
