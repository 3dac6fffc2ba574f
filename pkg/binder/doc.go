// Package binder decodes HTTP requests into typed structs.
//
// JSON reads a strict, size limited JSON body. Path and Query fill struct
// fields from router parameters and the query string using `path:` and
// `query:` tags. Fields whose type implements encoding.TextUnmarshaler
// (uuid.UUID, for example) are decoded through UnmarshalText.
package binder
