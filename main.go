package main

import "github.com/chaos-io/pixfix/cmd"

func main() {
	cmd.Execute()
}
