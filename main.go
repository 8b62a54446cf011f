package main

import "github.com/andresmejia3/skuscan/cmd"

func main() {
	cmd.Execute()
}
