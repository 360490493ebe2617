package main

import (
	"log"

	"github.com/MrSnakeDoc/livefeed/internal/app"
)

func main() {
	a, err := app.New()
	if err != nil {
		log.Fatalf("❌ livefeed failed to start: %v", err)
	}
	if err := a.Run(); err != nil {
		log.Fatalf("❌ livefeed failed: %v", err)
	}
}
