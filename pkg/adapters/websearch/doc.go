// Package websearch implements ports.WebSearcher against an HTTP JSON search
// endpoint.
//
// The endpoint is queried with GET ?q=<query>&count=<n> and an optional
// bearer token. Hits are read from the first of the web_items, results,
// web.results or items arrays in the reply; a hit's excerpt is its summary,
// falling back to snippet, description or content.
package websearch
