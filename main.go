package main

import (
	"github.com/consync/consync/pkg/cli"
)

func main() {
	cli.Execute()
}
