package main

import (
	"github.com/tdnguyen/pgguard/internal/cli"
)

func main() {
	cli.Execute()
}
