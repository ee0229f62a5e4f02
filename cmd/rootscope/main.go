// Command rootscope drives the rooting layer from the command line: it runs
// the scope scenarios against a collected runtime, prints the configuration
// schema and checks configuration files.
package main

import (
	"os"
)

func main() {
	a := &app{}
	if err := newRootCmd(a).Execute(); err != nil {
		reportError(os.Stderr, err, a.jsonLogs)
		os.Exit(1)
	}
}
