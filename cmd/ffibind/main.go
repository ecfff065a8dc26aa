// ffibind generates Go bindings for C and Objective-C headers.
package main

import (
	"fmt"
	"os"

	"ffibind/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
