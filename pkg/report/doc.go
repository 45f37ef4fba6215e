// Package report renders titled report sections as Markdown documents.
package report
