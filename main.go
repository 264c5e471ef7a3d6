package main

import "github.com/andresmejia3/guidecam/cmd"

func main() {
	cmd.Execute()
}
