// Package cmd implements the ngxpatch command-line interface.
//
// ngxpatch logs into one server over SSH, drives an interactive PTY shell
// through an ordered runbook of command steps, and by default uses that
// runbook to back up an nginx site file, insert a client_max_body_size
// directive after known anchor lines, test the configuration and reload
// nginx.
//
// Start with init.go for the cobra/viper wiring, runSession.go for the
// main flow, promptShell.go for the session driver and expecter.go for the
// prompt synchronization it is built on. editScript.go builds the remote
// awk line that performs the insertion.
package cmd
