//go:build mage

package main

import (
	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

// Search builds the CLI and runs a search for image, saving the results to
// output/last.yaml.
func Search(image string) error {
	mg.Deps(Build, Init)
	return sh.RunV("bin/visual-search", "search", "--image", image, "--save", "output/last.yaml")
}

// Sources builds the CLI and lists the configured source tiers.
func Sources() error {
	mg.Deps(Build)
	return sh.RunV("bin/visual-search", "sources")
}
