package main

import "github.com/danthegoodman1/rawsync/cmd"

func main() {
	cmd.Execute()
}
