/*
Package metrics provides Prometheus metrics collection and exposition for
kguardian's agent and broker processes, plus the health/readiness status
registry exposed over HTTP alongside them.

Metrics cover the event plane end to end: events received and dropped per
probe kind, correlator size and miss rate, per-pipeline emit/dedup/batch
counters, outbound broker request latency (agent side), and inbound ingest
request/duplicate counters (broker side). All metrics are registered at
package init and exposed via Handler(), mirroring the teacher's own
"MustRegister everything in init(), serve via promhttp.Handler()" pattern.

# Usage

	mux.Handle("/metrics", metrics.Handler())
	metrics.PipelineEventsEmittedTotal.WithLabelValues("network-flow").Inc()

	timer := metrics.NewTimer()
	// ... do work ...
	timer.ObserveDurationVec(metrics.BrokerRequestDuration, "pod/traffic/batch")

Collector periodically samples state that has no natural mutation hook
(the correlator's live entry count) and reflects it into a gauge:

	c := metrics.NewCollector(corr)
	c.Start()
	defer c.Stop()

# Health

RegisterComponent/UpdateComponent let each subsystem report its own health;
GetHealth/GetReadiness aggregate across them for the /health and /ready
HTTP handlers. Critical components for readiness are probe, watcher and
broker — the three collaborators the agent cannot run without.
*/
package metrics
