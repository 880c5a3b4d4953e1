package main

import (
	"os"

	_ "time/tzdata"

	"membership-manager/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		os.Exit(1)
	}
}
