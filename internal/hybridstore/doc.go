// ABOUTME: Package hybridstore composes the relational store and the optional vector store
// ABOUTME: into one write/search API with ranking, temporal windowing, and residual filtering

package hybridstore
