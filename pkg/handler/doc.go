// Package handler adapts typed request handlers to net/http.
//
// A HandlerFunc receives a Context and a decoded request struct and returns
// a Response. Wrap applies binders, decorators and an ErrorHandler, and
// renders the result. JSON responses share a single envelope:
//
//	{"data": ..., "meta": {...}, "error": {"code": "...", "message": "..."}}
package handler
