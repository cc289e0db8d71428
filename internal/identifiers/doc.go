// Package identifiers normalizes the natural keys that feed entries carry:
// DOIs, clinical-trial registry numbers and ORCID iDs.
//
// Every normalizer is pure and idempotent: applying it to its own output
// returns the same value. An input that cannot be normalized yields "".
package identifiers
