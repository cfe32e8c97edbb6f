// Package source fetches the engine binary and the files preloaded into the
// guest filesystem.
//
// A location is either an http(s) URL, a file:// URL, or a plain path.
// Plain paths resolve against Config.Root when set, otherwise against the
// OS filesystem. HTTP fetches retry transient failures (network errors,
// 5xx and 429) with exponential backoff; other statuses fail immediately.
//
// Preloader wraps a Fetcher and reports combined progress over everything it
// loads, which is what a launcher progress bar shows.
package source
