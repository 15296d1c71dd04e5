// Package circuitbreaker guards calls to the cloud gateway API with
// per-region circuit breakers built on sony/gobreaker.
package circuitbreaker
