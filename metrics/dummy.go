package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

type DummyMetrics struct{}

func (ds DummyMetrics) IncQueriesReceived()                 {}
func (ds DummyMetrics) IncQueriesAnswered()                 {}
func (ds DummyMetrics) IncQueriesDropped()                  {}
func (ds DummyMetrics) IncQueriesForwarded()                {}
func (ds DummyMetrics) IncQueriesFailed()                   {}
func (ds DummyMetrics) IncQueriesNotImplemented()           {}
func (ds DummyMetrics) IncMalformedPackets()                {}
func (ds DummyMetrics) SetRecordCount(int)                  {}
func (ds DummyMetrics) GetForwardTimer() *prometheus.Timer  { return nil }
func (ds DummyMetrics) GetResponseTimer() *prometheus.Timer { return nil }
func (ds DummyMetrics) ObserveTimer(_ *prometheus.Timer)    {}
func (ds DummyMetrics) Start() error                        { return nil }
func (ds DummyMetrics) Shutdown(_ context.Context) error    { return nil }
