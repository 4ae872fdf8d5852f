package main

import "github.com/curaious/sandboxctl/cmd"

func main() {
	cmd.Execute()
}
