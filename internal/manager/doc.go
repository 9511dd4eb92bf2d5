// Package manager coordinates the lifecycle of a single inference engine:
// loading, switching and unloading models, and admitting one logical call at
// a time. It is structured into small files by concern:
//
//   - manager.go: Manager type, constructor, registry lookup, getters.
//   - config.go: Config, defaults, settings-derived engine config and params.
//   - types.go: State machine, Request, host-facing interfaces.
//   - guard.go: single-flight call guard with stale reset and model switch.
//   - load.go: asynchronous loads, unload, stop and bounded waits.
//   - call.go: CallModel dispatch and inference.
//   - status.go: /status projection.
//   - factory.go: engine selection by artifact kind.
//   - errors.go: error types and IsX helpers used for HTTP mapping.
//   - events.go, eventpub_memory.go: lifecycle events.
//
// States are UNLOADED, LOADING, READY and BUSY. The state is one atomic value
// written under the manager mutex; the stop path may run concurrently with a
// generation.
package manager
