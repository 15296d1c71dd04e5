// Package transport provides the Sender capability requests are dispatched
// through, and a pooled net/http implementation of it.
package transport
