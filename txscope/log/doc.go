// Package log defines the logging interface used across txscope and its typed
// structured fields.
//
// Adapters (such as the zap package) implement Logger so the coordinator, the
// SQL adapters and the middleware log through one abstraction.
package log
