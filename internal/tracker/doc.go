// Package tracker defines the domain types and capability interfaces shared by
// the account tracker: targets, check records, fetched pages, and the
// collaborators (clock, page fetcher, blob store, record sinks) the scheduler
// is assembled from.
package tracker
