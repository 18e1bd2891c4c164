// Package model defines the records that flow through the fetch-and-load
// pipeline: series identifiers, observations, series metadata and the
// per-identifier outcome produced by every dispatched fetch.
package model
