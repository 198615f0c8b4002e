// Package tmdb provides the minimal TMDB search client used during title
// resolution.
//
// It exposes movie, TV and multi search behind a single Search call keyed by
// media kind. Requests share a token-bucket limiter so a pool of resolver
// workers cannot exceed the provider's request budget. Options allow tests to
// supply custom HTTP clients without modifying production code.
package tmdb
