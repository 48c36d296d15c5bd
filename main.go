// Command bioetl is the entry point for the bioactivity ETL engine. All
// behavior lives in the cli package; main only translates the returned
// exit code for the operating system.
//
// Example usage:
//
//	bioetl activity --config config.yaml
//	bioetl document --config config.yaml --limit 100
//	bioetl testitem --dry-run
package main

import (
	"os"

	"bioetl.dev/bioetl/cli"
)

func main() {
	os.Exit(cli.Execute())
}
