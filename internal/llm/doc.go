// Package llm defines the contracts AgentHive uses to talk to a hosted
// assistant execution backend: assistants, threads, runs, tool calls and
// messages, together with the embedding service used by the memory layer.
// Provider adapters live in sub-packages.
package llm
