// Package media turns a directory of raw images into responsive variants
// and a JSON manifest describing them.
//
// A run scans the input directory, skips assets whose modification time
// matches their manifest entry, writes a blur placeholder plus one file per
// breakpoint and output format for the rest (never upscaling), and saves the
// merged manifest once at the end. Per-asset failures are logged and leave
// the previous entry in place.
package media
