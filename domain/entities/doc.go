// Package entities provides the core domain types of the worker host:
// generations, instance keys, fault records, invocation payloads and the
// worker manifest. These types double as the JSON wire format exchanged
// with the guest module.
package entities
