// Package timegrid normalizes the timestamp text embedded in check-in codes
// and projects an observed instant forward onto the verifier's time grid.
//
// Timestamps without an explicit UTC offset are read in a single fixed zone
// (DefaultOffset, UTC+8) unless a Normalizer with another Location is used.
//
// QuantizeForward(base, now, period) returns base + n*period for the largest
// n >= 0 that does not pass now. Format renders the millisecond-precision
// form the downstream verifier accepts.
package timegrid
