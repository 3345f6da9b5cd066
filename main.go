package main

import (
	"os"

	"github.com/dhcgn/email-archive/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
