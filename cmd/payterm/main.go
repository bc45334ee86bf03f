package main

import "github.com/vitwit/payterm/cmd/payterm/cmd"

func main() {
	cmd.Execute()
}
