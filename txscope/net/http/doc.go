// Package http runs inbound requests inside a root transaction.
//
// WithTransaction is a Fiber middleware and WithGrpcTransaction a unary
// gRPC interceptor. Handlers downstream see the ambient transaction in
// their context, so every repository call they make joins it.
package http
