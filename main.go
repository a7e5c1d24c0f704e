package main

import "github.com/gr409/pragmatic/cmd"

func main() {
	cmd.Execute()
}
