// Package flows holds the login, refresh, logout and per-request
// validation protocols as plain functions over function-field
// dependencies.
//
// Flows return a result with a failure kind instead of a root error so
// the root package owns the public error taxonomy, metrics and audit.
// Nothing here imports the root package.
package flows
