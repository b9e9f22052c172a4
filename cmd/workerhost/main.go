// Command workerhost serves one WebAssembly worker over HTTP.
package main

import (
	"os"

	"github.com/reglet-dev/reglet-workers/cmd/workerhost/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
