// Command hap renders baseball highlight videos from a rundown, per the
// Highlight Assembly Pipeline.
package main

import (
	"os"

	"github.com/mantonx/hap/cmd/hap/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
