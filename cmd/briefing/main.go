package main

import (
	"fmt"
	"os"

	"github.com/niyazmukh/content-pipeline-sub001/cmd/cmd"
	"github.com/niyazmukh/content-pipeline-sub001/internal/logger"
)

func main() {
	logger.Init()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
