package main

import "github.com/taskdock/taskdock/cmd"

func main() {
	cmd.Execute()
}
