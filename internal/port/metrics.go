package port

import "time"

// DispatchMetrics records the outcome of dispatch cycles.
type DispatchMetrics interface {
	ObserveCycle(dispatcher string, duration time.Duration)
	AddEvents(dispatcher, outcome string, count int)
	SetBacklog(dispatcher string, backlog int)
}
