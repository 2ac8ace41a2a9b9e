package main

import "github.com/tanq16/kestrel/cmd"

func main() {
	cmd.Execute()
}
