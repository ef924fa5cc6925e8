package main

import "github.com/kebairia/cbak/cmd"

func main() {
	cmd.Execute()
}
