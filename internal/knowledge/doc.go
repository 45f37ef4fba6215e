// Package knowledge implements the local knowledge base: an incremental
// filesystem index persisted next to the documents, and a keyword relevance
// search over the indexed text.
//
// Documents are keyed by their path relative to the scanned directory and
// re-extracted only when their modification time changes. The index is kept
// in <root>/.kb_index.json. Failing to read or write that file never fails a
// scan or a search; it is logged and the in-memory index keeps working.
package knowledge
