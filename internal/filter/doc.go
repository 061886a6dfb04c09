// Package filter implements three approximate set-membership filters
// that share a common HashProvider: BloomFilter, CuckooFilter, and
// CBCuckooFilter (the configurable-bucket cuckoo filter). None of the
// three synchronizes its own mutation — callers that share a filter
// across goroutines must provide their own locking.
package filter
