// Package api serves the resource coordinator over HTTP with chi.
//
// Resources live under /api/resources. Every failure answers with an
// ErrorResponse whose code is the engine error code, so graph rule
// violations (unknown references, self dependencies, cycles) reach clients
// as 400 with a machine-readable reason.
package api
