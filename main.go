package main

import "github.com/Tiliavir/shiftq/cmd"

func main() {
	cmd.Execute()
}
