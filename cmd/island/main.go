package main

import "island/internal/cli"

func main() {
	cli.Execute()
}
