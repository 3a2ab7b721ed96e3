package main

import "github.com/invisiwind/invisiwind/cmd/invisiwind/commands"

func main() {
	commands.Execute()
}
