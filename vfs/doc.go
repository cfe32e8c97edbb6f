// Package vfs assembles the guest filesystem.
//
// The guest root "/" is a staging directory on the host. Preloaded files are
// copied into it, with parent directories created as needed, right before the
// entry point runs. Config adds persistent host directories at other guest
// paths, optionally read-only, so saves survive between launches.
package vfs
