package main

import (
	"fmt"
	"os"

	"frameworks/cmd/subcaptiond/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if cmd.IsMigrationRequired(err) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
