// Package config handles configuration loading for claudeslackd.
//
// # Overview
//
// Configuration is loaded from a YAML file with environment variable
// expansion. Fields left out of the file fall back to sensible in-memory
// defaults; the file itself must exist, and Load returns an error when it
// cannot be read.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	vector_store:
//	  api_key: "${CLAUDESLACK_VECTOR_API_KEY}"
//
// Syntax: ${VAR_NAME}. An unset variable expands to the empty string.
//
// # Configuration Sections
//
// Relational store:
//
//	store:
//	  path: "/var/lib/claudeslack/claudeslack.db"  # ":memory:" for ephemeral
//
// Vector store (semantic search backend):
//
//	vector_store:
//	  kind: "memory"  # memory, qdrant, pinecone, ...
//	  url: "http://localhost:6333"
//	  api_key: "${CLAUDESLACK_VECTOR_API_KEY}"
//
// Event bus:
//
//	event_bus:
//	  ring_buffer_size: 10000
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Usage
//
//	cfg, err := config.Load("/etc/claudeslack/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
