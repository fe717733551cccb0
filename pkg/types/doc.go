// Package types defines the Store and Collection interfaces, the memory
// entity types (object types, instances, values, diffs), dual timestamps,
// settings and meta records, and the standard errors shared by MemoryKit
// components.
package types
