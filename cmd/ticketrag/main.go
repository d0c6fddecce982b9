// Command ticketrag indexes historical customer support tickets and answers
// "which past tickets look like this one" queries over HTTP, NATS and the
// terminal.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		os.Exit(1)
	}
}
