package main

import "go.pilab.hu/standhub/cmd/standctl/cmd"

func main() {
	cmd.Execute()
}
