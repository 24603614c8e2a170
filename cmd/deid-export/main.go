package main

import (
	"deid-export/internal/cli"
)

func main() {
	cli.Execute()
}
