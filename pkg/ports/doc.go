// Package ports declares the interfaces the core depends on. Adapters under
// pkg/adapters implement them.
package ports
