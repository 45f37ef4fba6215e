// Package pipeline assembles the tender analysis graph.
//
// The entry stage parses the tender document and routes on workflow_type.
// The audit workflow parses the bid document, fans out to six independent
// checks and joins them in a modification summary. The generate workflow
// extracts commercial and technical requirements, searches the local
// knowledge base and the web for each side, and drafts bid material from
// what it found. Prompts are embedded YAML files that can be overridden from
// a directory at startup.
package pipeline
