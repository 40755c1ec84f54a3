// Package agent hosts the deployd runtime: a host-resident service that
// executes deploys through the pipeline, journals every run, answers the
// operator CLI over a line-delimited JSON control endpoint, and mutates
// runtime-tunable environment keys on behalf of the admin surface.
package agent
