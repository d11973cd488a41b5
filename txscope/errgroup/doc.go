// Package errgroup runs the goroutines of a transaction fan-out.
//
// The first goroutine error cancels the group context and is returned by
// Wait. Recovered panics are logged and converted into errors so a panicking
// participant cannot take the process down while its siblings still hold the
// shared handle.
package errgroup
