// Package redis caches embedding vectors in Redis so that repeated texts do
// not hit the embedding service twice.
package redis
