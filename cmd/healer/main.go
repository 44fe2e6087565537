package main

import "github.com/tdnguyen/healer/internal/cli"

func main() {
	cli.Execute()
}
