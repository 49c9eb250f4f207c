// Package main is the entry point of repo-tracker, which keeps a local
// database of GitHub repositories and their open issues up to date.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
