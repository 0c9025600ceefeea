// Package manager owns inference sessions: their registry, memory admission
// and eviction, and the public generation API. It is structured into small
// files by concern:
//
//   - manager.go: Manager type, constructor, lookups and shutdown.
//   - config.go: Config and package defaults.
//   - types.go: session state and snapshot types.
//   - errors.go: error types and helpers (IsSessionBusy, IsSessionNotFound).
//   - memory.go: admission against the memory budget and LRU eviction.
//   - session.go: StartSession/CloseSession lifecycle and teardown.
//   - queue_admission.go: per-session queueing of generation requests.
//   - generate.go: Generate/Cancel and the hooks binding a decode loop to
//     its session.
//   - events.go: Event names and the EventPublisher contract.
//
// A single RWMutex guards the session map, session states and the budget
// counter. Native work (load, unload, decode) never runs under it; the
// per-session genCh slot serializes access to a session's handle.
package manager
