// Package visibility decides which room events a user may see, dropping
// rejected and soft-failed events from export batches.
package visibility
