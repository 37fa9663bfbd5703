// Package session defines the core data model for Tandem work sessions.
//
// # Overview
//
// A Session in Tandem is one isolated working context bound to a single
// project directory. At most ten sessions are active at a time, and at most
// one session may be bound to a given project path. Sessions are identified
// by an immutable UUID; their display name and agent configuration are
// mutable.
//
// # Session Lifecycle
//
// 1. Create: When a new session is created:
//   - A UUID is generated for the session ID
//   - The project path is validated (absolute, existing directory)
//   - The session is registered in the process-wide registry
//   - A supervisor starts the session's state worker and boundary manager
//
// 2. Close: When a session closes:
//   - Its conversation and todos are snapshotted into a persisted record
//   - The supervised unit is torn down
//   - The registry entry is removed
//
// 3. Resume: When a persisted session is resumed:
//   - The signed record is loaded and validated
//   - A fresh session is created, seeded with the saved conversation
//   - The record file is deleted (consumed, not duplicated)
//
// # Data Model
//
// Message is one immutable conversation turn (user/assistant/system/tool).
// Todo is a tracked task mutated only by bulk replacement. Both live inside
// the owning session's state worker; this package only defines the types,
// their validation, and their serialization.
package session
