//go:build !test

package main

import (
	"log"

	"github.com/nanvix/microvm/flag"
)

func main() {
	if err := flag.Parse(); err != nil {
		log.Fatal(err)
	}
}
