package main

import (
	"flag"
	"log"

	"github.com/danmuck/pbxmon/internal/config"
)

func main() {
	output := flag.String("output", "pbxmon.toml", "output path for the config template")
	validate := flag.Bool("validate", false, "validate an existing config file instead of writing")
	input := flag.String("input", "pbxmon.toml", "config path for validation")
	force := flag.Bool("force", false, "overwrite an existing config file")
	flag.Parse()

	if *validate {
		if _, err := config.Load(*input); err != nil {
			log.Fatal(err)
		}
		log.Printf("Validated config at %s", *input)
		return
	}

	if err := config.WriteTemplate(*output, *force); err != nil {
		log.Fatal(err)
	}
	log.Printf("Wrote config template to %s", *output)
}
