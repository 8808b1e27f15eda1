package main

import "plspricer/internal/cli"

func main() {
	cli.Execute()
}
