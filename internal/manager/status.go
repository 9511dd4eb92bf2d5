package manager

import (
	"time"

	"edgelm/internal/engine"
	"edgelm/pkg/types"
)

type engineStatuser interface {
	Status() engine.Status
}

// Status builds the response for GET /status.
func (m *Manager) Status() types.StatusResponse {
	m.mu.Lock()
	resp := types.StatusResponse{
		State:          m.State().String(),
		Model:          m.loaded,
		Loading:        m.target,
		KeepLoaded:     m.keepLoaded.Load(),
		StopRequested:  m.stopRequested.Load(),
		LastError:      m.lastErr,
		LoadsTotal:     m.loads.Load(),
		CallsTotal:     m.calls.Load(),
		UptimeSeconds:  int64(time.Since(m.startTime).Seconds()),
		ServerTimeUnix: time.Now().Unix(),
	}
	eng := m.eng
	m.mu.Unlock()

	if tok, ok := m.guard.current(); ok {
		resp.ActiveCall = &types.CallStatus{ID: tok.id, Model: tok.model, StartedUnix: tok.since.Unix()}
	}
	if eng != nil {
		es := &types.EngineStatus{Type: eng.EngineType(), Initialized: true, Healthy: true}
		if s, ok := eng.(engineStatuser); ok {
			st := s.Status()
			es.Initialized = st.Initialized
			es.Generating = st.Generating
			es.Broken = st.Broken
			es.Healthy = st.Health.Healthy
			es.HealthReason = st.Health.Reason
			es.WorkerID = st.WorkerID
			es.TerminationRetries = st.Retries
			es.ParamSource = string(st.ParamSource)
			if st.Params != nil {
				es.Temperature = st.Params.Temperature
				es.TopK = st.Params.TopK
				es.TopP = st.Params.TopP
			}
			if st.Pool != nil {
				es.BatchReuses = st.Pool.BatchReuses
				es.BatchAllocs = st.Pool.BatchAllocs
				es.SamplerReuses = st.Pool.SamplerReuses
				es.SamplerAllocs = st.Pool.SamplerAllocs
			}
		}
		resp.Engine = es
	}
	return resp
}
