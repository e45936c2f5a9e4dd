// Package crawler defines the domain types, errors, and collaborator
// interfaces shared by the exchange-rate backfill pipeline.
package crawler
