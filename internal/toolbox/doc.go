// Package toolbox installs, runs, and tears down the managed agent tools.
//
// Ownership boundary:
// - static tool definitions and their validation
//
// - per-tool lifecycle: install, start, stop, restart, uninstall, delete, status
//
// - runtime config rendering for each agent's native schema
//
// - deferred file cleanup after stop and after plaintext config hand-off
//
// Lifecycle state is never stored. A tool is installed when its binary exists
// and running when the supervisor holds a live entry for it.
package toolbox
