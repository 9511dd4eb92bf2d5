package engine

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// ReportPrefix starts every statistics report appended to a generation.
const ReportPrefix = "\n\n[stats] "

// Report summarizes a completed generation.
type Report struct {
	Engine       string        `json:"engine"`
	Tokens       int           `json:"tokens"`
	PromptTokens int           `json:"prompt_tokens"`
	Elapsed      time.Duration `json:"elapsed_ns"`
	HeapAlloc    uint64        `json:"heap_alloc"`
	PeakHeap     uint64        `json:"peak_heap"`
	Params       Params        `json:"params"`
	ParamSource  ParamSource   `json:"param_source"`
	Truncated    bool          `json:"truncated"`
}

// TokensPerSecond is zero for instantaneous generations.
func (r Report) TokensPerSecond() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.Tokens) / r.Elapsed.Seconds()
}

func (r Report) String() string {
	var b strings.Builder
	b.WriteString(ReportPrefix)
	fmt.Fprintf(&b, "engine=%s tokens=%d prompt_tokens=%d time=%s speed=%.2f tok/s",
		r.Engine, r.Tokens, r.PromptTokens, r.Elapsed.Round(time.Millisecond), r.TokensPerSecond())
	fmt.Fprintf(&b, " mem=%s peak=%s", humanize.IBytes(r.HeapAlloc), humanize.IBytes(r.PeakHeap))
	fmt.Fprintf(&b, " temp=%.2f top_k=%d top_p=%.2f repeat_penalty=%.2f params=%s",
		r.Params.Temperature, r.Params.TopK, r.Params.TopP, r.Params.RepetitionPenalty, r.ParamSource)
	if r.Truncated {
		b.WriteString(" truncated=true")
	}
	return b.String()
}

// SplitReport separates generated text from a trailing statistics report.
func SplitReport(full string) (text, report string) {
	i := strings.LastIndex(full, ReportPrefix)
	if i < 0 {
		return full, ""
	}
	return full[:i], full[i:]
}

// memSampler tracks the heap high-water mark of a generation.
type memSampler struct {
	peak uint64
	last uint64
}

func (m *memSampler) sample() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	m.last = ms.HeapAlloc
	if ms.HeapAlloc > m.peak {
		m.peak = ms.HeapAlloc
	}
}
