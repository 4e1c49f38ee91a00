package main

import "github.com/bryanchriswhite/screenmask/cmd/screenmask/commands"

func main() {
	commands.Execute()
}
