package main

import "github.com/jmcleod/mgmtd/cmd/mgmtd/cmd"

func main() {
	cmd.Execute()
}
