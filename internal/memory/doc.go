// Package memory holds the long-term memory of the agent organisation: the
// append-only message and tool execution records, the similarity search
// contract used for context retrieval, and the Archive that embeds records
// before persisting them.
package memory
