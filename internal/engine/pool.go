package engine

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"edgelm/internal/native"
)

const minBatchSize = 512

// BatchSize estimates the batch capacity needed for a prompt of promptLen
// bytes: max(512, promptLen/4+100), capped at maxSeqLen. The cap wins when
// maxSeqLen is below 512.
func BatchSize(promptLen, maxSeqLen int) int {
	n := max(minBatchSize, promptLen/4+100)
	if maxSeqLen > 0 && n > maxSeqLen {
		n = maxSeqLen
	}
	return n
}

// PoolStats is a point-in-time view of pool accounting.
type PoolStats struct {
	BatchCapacity   int  `json:"batch_capacity"`
	BatchInUse      bool `json:"batch_in_use"`
	SamplerInUse    bool `json:"sampler_in_use"`
	BatchReuses     int  `json:"batch_reuses"`
	BatchAllocs     int  `json:"batch_allocs"`
	SamplerReuses   int  `json:"sampler_reuses"`
	SamplerAllocs   int  `json:"sampler_allocs"`
	InvalidReleases int  `json:"invalid_releases"`
}

// Pool owns one preallocated batch and one preallocated sampler and lends
// them out for a single generation at a time. Requests the pooled handles
// cannot serve get dynamically allocated handles that are freed on release.
type Pool struct {
	lib native.Library
	log zerolog.Logger

	mu            sync.Mutex
	batch         native.Handle
	batchCap      int
	batchInUse    bool
	sampler       native.Handle
	samplerParams native.SamplerParams
	samplerInUse  bool
	closed        bool
	stats         PoolStats
}

// NewPool preallocates a batch of batchCap and a sampler configured with
// sampling. If the sampler cannot be created the batch is freed again.
func NewPool(lib native.Library, batchCap int, sampling native.SamplerParams, log zerolog.Logger) (*Pool, error) {
	b, err := lib.CreateBatch(batchCap)
	if err != nil || !b.Valid() {
		return nil, fmt.Errorf("preallocate batch: %w", orInvalid(err))
	}
	sp := sampling
	s, err := lib.CreateSampler(&sp)
	if err != nil || !s.Valid() {
		lib.FreeBatch(b)
		return nil, fmt.Errorf("preallocate sampler: %w", orInvalid(err))
	}
	return &Pool{
		lib:           lib,
		log:           log,
		batch:         b,
		batchCap:      batchCap,
		sampler:       s,
		samplerParams: sampling,
	}, nil
}

func orInvalid(err error) error {
	if err != nil {
		return err
	}
	return native.ErrInvalidHandle
}

// AcquireBatch returns the pooled batch when it is free and large enough,
// otherwise a new batch of exactly required tokens. On failure it returns
// InvalidHandle and an error.
func (p *Pool) AcquireBatch(required int) (native.Handle, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return native.InvalidHandle, ErrPoolClosed
	}
	if !p.batchInUse && p.batch.Valid() && p.batchCap >= required {
		p.batchInUse = true
		p.stats.BatchReuses++
		h := p.batch
		p.mu.Unlock()
		poolAcquireTotal.WithLabelValues("batch", "pooled").Inc()
		return h, nil
	}
	p.stats.BatchAllocs++
	p.mu.Unlock()

	h, err := p.lib.CreateBatch(required)
	if err != nil || !h.Valid() {
		return native.InvalidHandle, fmt.Errorf("allocate batch(%d): %w", required, orInvalid(err))
	}
	poolAcquireTotal.WithLabelValues("batch", "dynamic").Inc()
	return h, nil
}

// ReleaseBatch returns h to the pool or frees it. Releasing InvalidHandle is a
// logged no-op.
func (p *Pool) ReleaseBatch(h native.Handle) {
	if !h.Valid() {
		p.invalidRelease("batch")
		return
	}
	p.mu.Lock()
	if h == p.batch {
		p.batchInUse = false
		if p.closed {
			p.batch = native.InvalidHandle
			p.mu.Unlock()
			p.lib.FreeBatch(h)
			return
		}
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	p.lib.FreeBatch(h)
}

// AcquireSampler reuses the pooled sampler when sp matches the sampling it
// was created with; any other parameters get a dedicated sampler.
func (p *Pool) AcquireSampler(sp native.SamplerParams) (native.Handle, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return native.InvalidHandle, ErrPoolClosed
	}
	if !p.samplerInUse && p.sampler.Valid() && sp == p.samplerParams {
		p.samplerInUse = true
		p.stats.SamplerReuses++
		h := p.sampler
		p.mu.Unlock()
		poolAcquireTotal.WithLabelValues("sampler", "pooled").Inc()
		return h, nil
	}
	p.stats.SamplerAllocs++
	p.mu.Unlock()

	h, err := p.lib.CreateSampler(&sp)
	if err != nil || !h.Valid() {
		return native.InvalidHandle, fmt.Errorf("allocate sampler: %w", orInvalid(err))
	}
	poolAcquireTotal.WithLabelValues("sampler", "dynamic").Inc()
	return h, nil
}

// ReleaseSampler mirrors ReleaseBatch.
func (p *Pool) ReleaseSampler(h native.Handle) {
	if !h.Valid() {
		p.invalidRelease("sampler")
		return
	}
	p.mu.Lock()
	if h == p.sampler {
		p.samplerInUse = false
		if p.closed {
			p.sampler = native.InvalidHandle
			p.mu.Unlock()
			p.lib.FreeSampler(h)
			return
		}
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	p.lib.FreeSampler(h)
}

func (p *Pool) invalidRelease(kind string) {
	p.mu.Lock()
	p.stats.InvalidReleases++
	p.mu.Unlock()
	p.log.Warn().Str("kind", kind).Msg("release of invalid handle ignored")
}

// Close frees the pooled handles. A handle that is checked out is freed when
// it comes back. Close is idempotent.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	var b, s native.Handle
	if !p.batchInUse {
		b, p.batch = p.batch, native.InvalidHandle
	}
	if !p.samplerInUse {
		s, p.sampler = p.sampler, native.InvalidHandle
	}
	p.mu.Unlock()
	if b.Valid() {
		p.lib.FreeBatch(b)
	}
	if s.Valid() {
		p.lib.FreeSampler(s)
	}
}

// Stats returns a copy of the pool counters.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := p.stats
	st.BatchCapacity = p.batchCap
	st.BatchInUse = p.batchInUse
	st.SamplerInUse = p.samplerInUse
	return st
}
