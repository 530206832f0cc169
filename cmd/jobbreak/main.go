// Package main provides the entry point for the jobbreak CLI.
package main

import (
	"fmt"
	"os"

	"github.com/awalker/jobbreak/internal/cli"
)

func main() {
	code, err := cli.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(code)
}
