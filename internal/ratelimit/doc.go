// Package ratelimit provides per-client sliding-window rate limiting.
//
// Each identifier keeps the timestamps of its admitted requests within the
// trailing window. Expired timestamps are pruned on every check for that
// identifier, and a small random fraction of admissions sweeps the whole
// table so idle identifiers are eventually forgotten.
//
// This is a single-instance, in-memory rate limiter intended for basic abuse
// prevention on a single server. Counters are not shared between replicas.
// For distributed attacks use an upstream WAF or CDN-level rate limiting.
package ratelimit
