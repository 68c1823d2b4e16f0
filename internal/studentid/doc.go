// Package studentid holds the pure rules applied to recognised identifier text:
// normalisation of common OCR confusions, the eight-digit format gate, the
// escalation decision and roster matching with an ambiguity guard.
//
// Every function here is deterministic and side-effect free. Matching prefers
// returning nothing over guessing: a candidate one edit away from two or more
// roster entries is left for a human to resolve.
package studentid
