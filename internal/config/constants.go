package config

// CorrelationHeader is the inbound/outbound correlation-id header name,
// honored and echoed per spec §6.
const CorrelationHeader = "X-Correlation-ID"

// WorkerNamePrefix names queue consumer identities ("worker-0", "worker-1", ...).
const WorkerNamePrefix = "worker-"
