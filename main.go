package main

import "github.com/trendfeed/pipeline/cmd"

func main() {
	cmd.Execute()
}
