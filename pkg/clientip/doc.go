// Package clientip resolves the address of the client behind a request.
//
// Proxy headers are only honoured when the caller lists them, since any
// client can send them:
//
//	source := clientip.Source(clientip.HeaderCloudflare, clientip.HeaderForwardedFor)
//	jwt.Middleware(jwt.MiddlewareConfig{Service: tokens, Guard: guard, Source: source})
//
// Without trusted headers the connection address is used.
package clientip
