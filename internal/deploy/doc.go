// Package deploy implements the deployment pipeline for the managed bot
// service: fetch code, install dependencies, reconcile the environment
// file, restart the systemd unit, verify liveness.
//
// The pipeline is linear and short-circuits on the first failed step. The
// restart step is gated: manual deploys require operator confirmation,
// CI-triggered deploys restart unconditionally. Every run, including
// failed and gated ones, produces a Report for the deploy journal.
package deploy
