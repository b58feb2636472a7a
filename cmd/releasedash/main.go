package main

import (
	"fmt"
	"os"

	"github.com/smallnest/releasedash/cli"
	"github.com/smallnest/releasedash/internal/logger"
)

func main() {
	err := cli.Execute()
	_ = logger.Sync()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
