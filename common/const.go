package common

// DefaultConfigName is the configuration file picked up from the working
// directory when neither --config nor WARPSTREAM_CONFIG is set.
const DefaultConfigName = "warpstream.yaml"

// DefaultMetricsPath is where the watch command serves Prometheus metrics.
const DefaultMetricsPath = "/metrics"
