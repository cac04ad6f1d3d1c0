// Command devsupport runs the software development support MCP server.
package main

import (
	"fmt"
	"os"

	"github.com/vinayprograms/devsupport/cli"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := cli.NewRootCommand(version).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
