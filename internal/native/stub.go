//go:build !llama

package native

// New returns the stub library used when the llama backend is not compiled in.
func New() Library { return unavailable{} }

// Available reports whether a real backend is compiled into this binary.
func Available() bool { return false }

type unavailable struct{}

func (unavailable) BackendInit() error                        { return ErrUnavailable }
func (unavailable) LoadModel(string) (Handle, error)          { return InvalidHandle, ErrUnavailable }
func (unavailable) CreateBatch(int) (Handle, error)           { return InvalidHandle, ErrUnavailable }
func (unavailable) CreateSampler(*SamplerParams) (Handle, error) {
	return InvalidHandle, ErrUnavailable
}
func (unavailable) CreateContext(Handle, ContextParams) (Handle, error) {
	return InvalidHandle, ErrUnavailable
}
func (unavailable) Prime(Handle, Handle, string, int) int { return -1 }
func (unavailable) DecodeStep(Handle, Handle, Handle, int, *int) (Step, error) {
	return Step{}, ErrUnavailable
}
func (unavailable) ClearKVCache(Handle) error { return ErrUnavailable }
func (unavailable) SetStopFlag(bool)          {}
func (unavailable) StopFlag() bool            { return false }
func (unavailable) FreeBatch(Handle)          {}
func (unavailable) FreeSampler(Handle)        {}
func (unavailable) FreeContext(Handle)        {}
func (unavailable) FreeModel(Handle)          {}
