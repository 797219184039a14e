//go:build mage

package main

import (
	"fmt"
	"os"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

const binaryName = "bin/chat-sync"

// Build compiles the service binary.
func Build() error {
	mg.Deps(Vet)
	fmt.Println("Building", binaryName)
	return sh.RunV("go", "build", "-o", binaryName, ".")
}

func Vet() error {
	return sh.RunV("go", "vet", "./...")
}

// Test runs the unit tests with the race detector.
func Test() error {
	return sh.RunV("go", "test", "-race", "-count=1", "./...")
}

// Run starts the service with the local .env.
func Run() error {
	mg.Deps(Build)
	return sh.RunV("./" + binaryName)
}

func Clean() error {
	return os.RemoveAll("bin")
}
