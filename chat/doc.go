// Package chat turns a recorded Twitch video's comment history into a replay.
//
// It provides three layers:
//   - Pager: walks the comment pages of one video in order, one request at a
//     time, using the first edge cursor of each page to request the next.
//   - ToEntries / IsStreamer: convert raw comment edges into display entries
//     with light and dark theme colors, and optionally keep only comments
//     from broadcasters, moderators, VIPs and partners that are not bots.
//   - Session: runs the metadata/badge lookup and the comment walk
//     concurrently for one video, accumulating entries, progress and
//     human-readable error messages that HTTP handlers can observe while the
//     replay is still loading.
//
// Cancellation of the caller's context stops a session without recording an
// error. A video unknown to the metadata lookup leaves metadata and badges
// unset and is listed in Errors() without failing the session. Every other
// failure is reported once through the session's ErrorReporter and kept in
// Errors().
package chat
