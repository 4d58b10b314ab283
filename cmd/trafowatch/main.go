package main

import "transformer-telemetry/internal/cli"

func main() {
	cli.Execute()
}
