// Command sercha-indexer indexes local files for hybrid keyword and vector search.
package main

import (
	"os"

	"github.com/custodia-labs/sercha-indexer/internal/adapters/driving/cli"
)

// version is set by the linker at release time.
var version = "dev"

func main() {
	cli.SetVersion(version)
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
