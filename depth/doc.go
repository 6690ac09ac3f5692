// Package depth turns one depth-camera frame into a filtered list of
// sample points.
//
// Decode copies a sensor frame out of its native pixel buffers into a
// Frame owned by the caller. Sample walks that Frame at a fixed stride in
// row-major order and keeps the readings that fall inside the configured
// validity range. Summarize reduces the kept points to per-capture
// statistics.
package depth
