package main

import "github.com/kozaktomas/camflow/cmd"

func main() {
	cmd.Execute()
}
