package main

import "github.com/relforge/relforge/cmd/relforge/cli"

func main() {
	cli.Execute()
}
