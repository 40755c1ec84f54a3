// Package remote executes deploy commands on the target host, either
// directly over SSH from the operator CLI or locally when the agent runs
// on the host itself. Both paths satisfy tools.CommandRunner so the deploy
// pipeline is unaware of where it executes.
package remote
