package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/danmuck/deployctl/internal/config"
)

func main() {
	kind := flag.String("kind", "deploy", "config kind: deploy|secrets")
	output := flag.String("output", "", "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing config file")
	input := flag.String("input", "", "config path for validation (defaults to per-kind path)")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	if *validate {
		path := *input
		if path == "" {
			switch *kind {
			case "deploy":
				path = "deployctl.toml"
			case "secrets":
				path = "secrets.toml"
			default:
				log.Fatalf("unknown kind: %s", *kind)
			}
		}

		switch *kind {
		case "deploy":
			if _, err := config.Load(path); err != nil {
				log.Fatal(err)
			}
		case "secrets":
			if err := validateSecrets(path); err != nil {
				log.Fatal(err)
			}
		default:
			log.Fatalf("unknown kind: %s", *kind)
		}
		log.Printf("Validated %s config at %s", *kind, path)
		return
	}

	target := *output
	if target == "" {
		switch *kind {
		case "deploy":
			target = "deployctl.toml"
		case "secrets":
			target = "secrets.toml"
		default:
			log.Fatalf("unknown kind: %s", *kind)
		}
	}

	if err := config.WriteTemplate(target, *kind, *force); err != nil {
		log.Fatal(err)
	}
	log.Printf("Wrote %s config template to %s", *kind, target)
}

// validateSecrets checks that the file parses as a flat string table. The
// key set itself is checked against the env policy at deploy time.
func validateSecrets(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var raw map[string]string
	if err := toml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse secrets config: %w", err)
	}
	if len(raw) == 0 {
		return fmt.Errorf("secrets config is empty: %s", path)
	}
	return nil
}
