package main

import "idm-connector/internal/cli"

func main() {
	cli.Execute()
}
