// Package ports defines the interfaces the lifecycle core depends on.
// The wazero executor, the state stores and the manifest parser are
// infrastructure adapters implementing them.
package ports
