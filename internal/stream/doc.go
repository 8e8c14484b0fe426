// Package stream provides the text sources a narration is fed from: chat
// completion streams, the RAG backend's streaming query, readers and
// followed files. Every source delivers incremental text chunks to a
// callback in arrival order.
package stream
