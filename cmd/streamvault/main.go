package main

import "github.com/voyagen/streamvault/cmd/streamvault/commands"

func main() {
	commands.Execute()
}
