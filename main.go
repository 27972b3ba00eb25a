package main

import "loadtank/cmd"

func main() {
	cmd.Execute()
}
