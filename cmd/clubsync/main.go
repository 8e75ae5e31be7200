// Command clubsync runs the club sync core against the club backend and
// serves the local viewer API.
package main

import (
	"context"
	"os"
)

var version = "dev"

func main() {
	if err := run(context.Background(), os.Args); err != nil {
		os.Exit(1)
	}
}
