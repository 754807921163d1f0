package types

// Telemetry metric names for CloudWatch.
// All components MUST use these constants.
const (
	// Metric Names
	MetricAPILatency          = "APILatency"
	MetricAPIRequestCount     = "APIRequestCount"
	MetricPredictionDefaulted = "PredictionDefaulted"
	MetricArtifactLoad        = "ArtifactLoad"

	// Dimension Keys
	DimEndpoint = "Endpoint"
	DimMethod   = "Method"
	DimStatus   = "Status"
	DimCity     = "City"
	DimResult   = "Result"

	// Metric Namespace default; overridable via METRIC_NAMESPACE.
	MetricNamespace = "Citycast"
)
