// Command xraysync syncs automated test runs with Xray test management.
package main

import (
	"os"

	"github.com/AbdelazizMoustafa10m/xraysync/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
