package main

import (
	"log"

	"casvault/cmd/cas/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		log.Fatal(err)
	}
}
