package main

import "github.com/ppiankov/mailwarden/internal/cli"

func main() {
	cli.Execute()
}
