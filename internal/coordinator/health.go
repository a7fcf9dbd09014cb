package coordinator

import "context"

// HealthReport is the shape the "cache health" dispatcher action
// surfaces, and what scenario 6 (degraded graph) asserts against.
type HealthReport struct {
	RelationalOK   bool `json:"relational_ok"`
	VectorOK       bool `json:"vector_ok"`
	GraphAvailable bool `json:"graph_available"`
	CacheAvailable bool `json:"cache_available"`
	Degraded       bool `json:"degraded"`
}

// Health reports the coordinator's view of every backend's
// availability. It never returns an error: a failed probe is reported
// as unavailable, not propagated.
func (c *Coordinator) Health(ctx context.Context) HealthReport {
	r := HealthReport{
		RelationalOK: c.pingRelational(ctx),
		VectorOK:     c.currentVector() != nil,
	}

	if c.graph != nil {
		r.GraphAvailable = c.graph.Available()
	}
	if c.cache != nil {
		r.CacheAvailable = c.cache.Health(ctx)
	}

	r.Degraded = !r.RelationalOK || !r.VectorOK || !r.GraphAvailable || c.GraphDegraded()
	return r
}

func (c *Coordinator) pingRelational(ctx context.Context) bool {
	if c.store == nil {
		return false
	}
	return c.store.DB().PingContext(ctx) == nil
}
