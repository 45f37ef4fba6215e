// Package llm provides text generation clients.
//
// The factory creates a ports.TextGenerator from provider configuration.
// Currently supports:
//   - Anthropic Claude (Messages API)
package llm
