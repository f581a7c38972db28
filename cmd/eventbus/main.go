package main

import "github.com/drblury/eventbus/cmd/eventbus/cmd"

func main() {
	cmd.Execute()
}
