package main

import "feedload/cmd"

func main() {
	cmd.Execute()
}
