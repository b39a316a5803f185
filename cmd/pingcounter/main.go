package main

import "pingcounter/internal/cli"

func main() {
	cli.Execute()
}
