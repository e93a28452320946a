package main

import (
	"flag"
	"log"

	"github.com/danmuck/toolbox/internal/config"
)

const defaultPath = "cmd/toolboxd/config.toml"

func main() {
	output := flag.String("output", defaultPath, "output path for the toolboxd config template")
	validate := flag.Bool("validate", false, "strictly validate an existing config file")
	input := flag.String("input", defaultPath, "config path for validation")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	if *validate {
		if _, err := config.ValidateFile(*input); err != nil {
			log.Fatal(err)
		}
		log.Printf("Validated toolboxd config at %s", *input)
		return
	}

	if err := config.WriteTemplate(*output, *force); err != nil {
		log.Fatal(err)
	}
	log.Printf("Wrote toolboxd config template to %s", *output)
}
