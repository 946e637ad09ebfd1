package metrics

import "time"

// Record outcomes counted by ServerMetrics.
const (
	ResultRecorded  = "recorded"
	ResultDuplicate = "duplicate"
	ResultInvalid   = "invalid"
	ResultUnknown   = "unknown_form"
	ResultError     = "error"
)

// ServerMetrics are the metrics scand exports.
type ServerMetrics struct {
	reg *Registry
}

// NewServerMetrics registers the receiver metrics on reg.
func NewServerMetrics(reg *Registry) *ServerMetrics {
	m := &ServerMetrics{reg: reg}
	for _, res := range []string{ResultRecorded, ResultDuplicate, ResultInvalid, ResultUnknown, ResultError} {
		m.record(res)
	}
	return m
}

// Registry returns the underlying registry.
func (m *ServerMetrics) Registry() *Registry { return m.reg }

func (m *ServerMetrics) record(result string) *Counter {
	return m.reg.Counter("records_received_total", "Records posted by workstations, by outcome", Labels{"result": result})
}

// ObserveRecord counts one posted record.
func (m *ServerMetrics) ObserveRecord(result string) {
	m.record(result).Inc()
}

// Records returns how many posted records had result.
func (m *ServerMetrics) Records(result string) uint64 {
	return m.record(result).Value()
}

// ObserveRequest records the handling time of one request.
func (m *ServerMetrics) ObserveRequest(method string, d time.Duration) {
	m.reg.Histogram("request_duration_seconds", "HTTP request handling time", Labels{"method": method}, DurationBuckets).ObserveDuration(d)
}

// SetStored sets the number of records in the database.
func (m *ServerMetrics) SetStored(n int64) {
	m.reg.Gauge("records_stored", "Records in the database", nil).Set(n)
}
