// Cache for small string values (usually JSON) with a fixed TTL and purging.
//
// Includes an interface and implementations using redis and in-process memory.
//
// The toxicity scorer uses this to remember model results for repeated text (copy-pasted spam waves), so the same message body doesn't cost an oracle call every time.
package cachestore
