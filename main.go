package main

import (
	"log"

	"cache-coordinator/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		log.Fatal(err)
	}
}
