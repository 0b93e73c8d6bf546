package cmd

import "os"

// exitFunc is replaced in tests to observe the exit code.
var exitFunc = os.Exit
