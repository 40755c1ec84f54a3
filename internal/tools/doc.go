// Package tools provides command execution primitives shared by the deploy
// pipeline, the service supervisor, and the agent runtime.
package tools
