package main

import "github.com/aceteam-ai/imposium-cli/cmd"

func main() {
	cmd.Execute()
}
