package main

import (
	"log"

	"plugin-runtime/internal/app"
	"plugin-runtime/internal/plugin"
)

func main() {
	// Plugin implementations linked into this binary register here.
	factories := plugin.NewFactories()

	if err := app.Run(factories); err != nil {
		log.Fatal(err)
	}
}
