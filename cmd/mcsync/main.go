// Command mcsync keeps a Mailchimp audience in step with an application's
// accounts and documents.
package main

import (
	"fmt"
	"os"

	"github.com/mailchimp/Firebase/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
