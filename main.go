package main

import "github.com/andresmejia3/camrig/cmd"

func main() {
	cmd.Execute()
}
