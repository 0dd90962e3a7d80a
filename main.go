package main

import "github.com/vhsm-dev/vhsm/cmd"

func main() {
	cmd.Execute()
}
