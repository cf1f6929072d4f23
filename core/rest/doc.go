// Package rest is an HTTP dispatcher that honours per-route rate limits.
//
// # Buckets
//
// Every request maps to a [BucketKey]: method, path template and the value of
// the major parameter (channel_id, guild_id or webhook_id). The [Limiter]
// tracks one bucket per key. A bucket nobody has seen yet lets exactly one
// request through to learn its limits from the response headers; concurrent
// callers wait for that discovery to finish.
//
// When the server reports a bucket id (X-RateLimit-Bucket) the route is
// aliased to it, so routes sharing a server-side bucket also share state here.
//
// # Global limit
//
// A 429 with global scope locks every bucket until the retry-after elapses.
// An optional proactive requests-per-second ceiling keeps the process below
// the global limit in the first place.
//
// # Retries
//
// [Client.Execute] retries 429 responses, 5xx responses and network errors
// according to its [RetryPolicy]. Other 4xx responses fail immediately with
// an [*Error].
package rest
