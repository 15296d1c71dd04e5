// Package memory provides an in-memory gateway.CloudAPI. It backs the
// CLI's dry-run mode and the tests of every package above the core.
package memory
