// Package tools runs short-lived host commands on behalf of other packages.
//
// Ownership boundary:
// - one-shot command execution with captured output and exit code
//
// - command fallbacks across host wrappers such as WSL
//
// Long-running agent processes are owned by the supervisor package, not here.
package tools
