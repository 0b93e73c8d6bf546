package main

import "ngxpatch/cmd"

func main() {
	cmd.Execute()
}
