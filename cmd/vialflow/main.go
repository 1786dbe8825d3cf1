// cmd/vialflow/main.go
//
// Entry point for the vialflow CLI. All commands live in internal/cmd; this
// only turns their result into the process exit code.

package main

import (
	"os"

	"github.com/kingrea/vialflow/internal/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
