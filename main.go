package main

import (
	"os"

	"github.com/srobinson/alphab-auth-gateway/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
