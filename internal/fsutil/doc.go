package fsutil

// Package fsutil provides serialized, atomic access to small data files.
//
// Every path gets its own mutex so concurrent writers in this process never
// interleave. Writes go to a temp file in the target directory and are
// renamed into place.
