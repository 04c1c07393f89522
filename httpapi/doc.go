// Package httpapi is the REST boundary of the authentication core: a chi
// router serving POST /login, /refresh and /logout over an
// [authcore.Engine].
//
// Bad credentials and a locked account produce the same 401 body:
//
//	{"status":401,"code":"authentication_failed","message":"invalid email or password"}
//
// Token failures use the codes invalid_token, expired_token and
// revoked_token. Store outages are 503.
package httpapi
