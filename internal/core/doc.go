// Package core holds the per-session workspace and the operations that drive it.
//
// It is independent of any transport. The web handlers reach it only
// through [Service].
//
// # Workspace
//
// Each browser session owns one [Workspace]. Its [State] is a plain value and
// every change goes through [State.Apply], a pure reducer over discrete
// messages:
//
//	FileSelected     replace the selection; clear error, success, email status
//	RateEdited       set one item's rate and recompute its total
//	LoginStarted     remember the login state nonce
//	LoggedIn         install the session
//	LoginFailed      keep the session absent, record the error
//	LoggedOut        clear session and email status, keep the table
//	UploadStarted    mark busy; clear error, success, email status
//	UploadSucceeded  replace the table, install email status, clear busy
//	UploadFailed     record the error, clear busy, keep the table
//
// Workspace serializes Dispatch calls, so concurrent requests for the same
// session observe one transition at a time.
//
// # Uploads
//
// A workspace allows one upload in flight. A second Upload while busy fails
// with [ErrUploadInProgress] and sends nothing. Across all sessions an
// [UploadLimiter] bounds concurrent submissions to the extraction service.
//
// # Lifetime
//
// Workspaces live in memory only. Idle ones are evicted by the sweeper
// started with [Service.StartSweeper]; nothing survives a restart.
package core
