// Package mysql persists the agent memory (messages and tool executions) in
// MySQL. Embeddings are stored as JSON arrays and similarity is scored in
// process over a bounded window of the most recent rows.
package mysql
