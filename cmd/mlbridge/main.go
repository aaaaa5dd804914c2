package main

import (
	"log"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		log.SetFlags(0)
		log.Printf("mlbridge: %v", err)
		os.Exit(1)
	}
}
