package main

import "github.com/tanq16/keeper/cmd"

func main() {
	cmd.Execute()
}
