// Command syncmap runs scenarios against the syncmap store engine and
// inspects its offline cache.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/syncmap/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
