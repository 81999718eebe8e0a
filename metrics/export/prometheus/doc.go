// Package prometheus exposes authcore's in-process counters and the session
// latency histogram as a client_golang [prometheus.Collector].
//
// Counter names are authcore_*_total; the histogram is
// authcore_session_latency_seconds. The exporter never touches the default
// registry. Register it yourself or mount [Exporter.Handler].
package prometheus
