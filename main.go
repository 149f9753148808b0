package main

import (
	"github.com/agentround/agentround/internal/cmd"
)

func main() {
	cmd.Execute()
}
