package main

import "github.com/ppiankov/dcawatch/internal/cli"

func main() {
	cli.Execute()
}
