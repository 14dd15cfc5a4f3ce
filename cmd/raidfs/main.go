package main

import (
	"log"

	"github.com/chanyoung/raidfs/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		log.Fatal(err)
	}
}
