package main

import (
	"github.com/retrolinker/retrolinker/cmd"
)

func main() {
	cmd.Execute()
}
