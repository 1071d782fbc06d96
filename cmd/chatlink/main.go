package main

import "github.com/nfrund/chatlink/cmd/chatlink/cmd"

func main() {
	cmd.Execute()
}
