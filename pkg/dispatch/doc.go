// Package dispatch is the admission layer in front of the core components.
// Submit consults the quota manager (concurrent jobs, builds per day)
// before creating the job, counts the build on success, and Complete writes
// the job's output blobs into the artifact store before closing the job.
package dispatch
