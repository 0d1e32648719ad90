// Package enrich drives the per-key metadata fetch loop: it filters keys
// already handled, paces batches, retries transient failures, and records
// every outcome durably so an interrupted run resumes exactly where it
// stopped.
package enrich
