// Package parser extracts text from input documents.
//
// Supported formats are plain text, Markdown (outline taken from # headings)
// and Word .docx (outline taken from heading paragraph styles). Documents can
// be referenced by local path, file:// URL or http(s) URL; remote documents
// are downloaded first. Anything else yields an *UnsupportedFormatError.
package parser
