package main

import (
	"fmt"
	"os"

	"github.com/macrolens/larder/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "larderctl: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}
