// Package envfile owns the deployment environment file and its
// partitioned mutability rules.
//
// Keys are split into two managed classes. Secret keys are owned by the
// deploy pipeline and rewritten from the trusted source on every deploy.
// Tunable keys are owned by the runtime admin interface and survive
// deploys untouched. Keys outside both classes are carried over verbatim.
package envfile
