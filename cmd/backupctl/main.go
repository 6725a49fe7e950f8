package main

import (
	"os"

	"github.com/isdelr/winepair-be/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
