// Package async provides panic-safe helpers for fire-and-forget goroutines.
//
// Webhook fan-out and audit writes run detached from the request that
// triggered them; SafeGo guarantees a panicking delivery attempt cannot take
// the process down and that every background task carries a timeout.
package async
