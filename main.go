package main

import "github.com/vitae/vitae/backend/go-services/internal/cli"

func main() {
	cli.Execute()
}
