// Command sopsync fills SOP compliance forms from templates.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/roach88/sopsync/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
