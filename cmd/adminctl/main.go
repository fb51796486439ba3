// Command adminctl drives an admin session from a terminal: log in, inspect
// the verified session, and probe the gateway with the mirrored cookie.
package main

import (
	"fmt"
	"os"
)

func main() {
	root, release := newRootCmd(os.Stdout, os.Stderr)
	err := root.Execute()
	release()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
