// Package main is the entry point for the feedbacksync service.
package main

import (
	"fmt"
	"os"

	"github.com/danielolaszy/feedbacksync/cmd"
	"github.com/danielolaszy/feedbacksync/internal/logging"
)

func main() {
	if err := cmd.Execute(); err != nil {
		logging.Error("command execution failed", "error", err)
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
