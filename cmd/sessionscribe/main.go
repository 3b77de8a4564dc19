package main

import "github.com/forPelevin/sessionscribe/internal/cli"

func main() {
	cli.Main()
}
