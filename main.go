package main

import "github.com/flockhq/flock/cli"

func main() {
	cli.Execute()
}
