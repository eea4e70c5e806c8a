package main

import "github.com/Yates-Labs/fable/cmd"

func main() {
	cmd.Execute()
}
