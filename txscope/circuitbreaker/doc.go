// Package circuitbreaker guards handle acquisition with a sony/gobreaker
// circuit breaker.
//
// Wrap a txscope.Driver with NewDriver so that a database that keeps
// refusing connections fails transactions fast instead of piling up
// blocked begins. A Recoverer can probe the database while the breaker is
// open and close it as soon as the probe succeeds.
package circuitbreaker
