package main

import "github.com/RTSDA/RTSDA-Android-sub001/cmd/rtsda/cmd"

func main() {
	cmd.Execute()
}
