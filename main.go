// Command crawlctl is the entrypoint for the crawl control plane's CLI.
package main

import (
	"fmt"
	"os"

	"github.com/northcloud/crawlctl/cmd/crawlctl"
)

func main() {
	if err := crawlctl.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
