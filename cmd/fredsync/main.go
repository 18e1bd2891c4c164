package main

import "fred-ingest/internal/cli"

func main() {
	cli.Execute()
}
