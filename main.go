package main

import "github.com/lexsf/azul/cmd"

func main() {
	cmd.Execute()
}
