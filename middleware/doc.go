// Package middleware adapts the authcore Engine to net/http.
//
// # Chain
//
//   - [RateLimit] runs first on every route and sets the X-RateLimit-*
//     headers; rejections are 429 with Retry-After.
//   - [ClientInfo] records the client IP and User-Agent for the engine.
//   - [Authenticate] verifies the bearer access token and stores the
//     [authcore.Principal] in the request context.
//   - [RequirePermission] answers 403 for principals lacking a permission.
//
// Every error body has the same shape, written by [WriteError]:
//
//	{"status":401,"code":"invalid_token","message":"invalid token"}
//
// This package makes no security decisions of its own; it only
// translates engine results into HTTP responses.
package middleware
