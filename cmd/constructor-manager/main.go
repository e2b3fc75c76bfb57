// Command constructor-manager manages updates of a conda-distributed
// desktop application: each version lives in its own environment under the
// installation prefix, and every operation emits one JSON document.
package main

import (
	"os"

	"github.com/jmgilman/constructor-manager/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
