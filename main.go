package main

import (
	"fmt"
	"os"

	"github.com/thiagokokada/repoops/cmd"
)

func main() {
	if err := cmd.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "repoops: %v\n", err)
		os.Exit(cmd.ExitCode(err))
	}
}
