//go:build mage

package main

import (
	"fmt"
	"os"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
	"github.com/pkg/errors"
)

const binaryName = "firehoseingester"

// Check dependent tools are present and the correct version.
func CheckDeps() error {
	checks := []struct {
		name  string
		check func() error
	}{
		{"docker", dockerCheck},
		{"golangci-lint", golangciLintCheck},
	}
	failures := false
	for _, check := range checks {
		fmt.Printf("Checking %s... ", check.name)
		if err := check.check(); err != nil {
			fmt.Printf("FAILED\nReason: %v\n", err)
			failures = true
		} else {
			fmt.Println("PASSED")
		}
	}
	if failures {
		return errors.New("check(s) failed.")
	}
	return nil
}

// Build the ingester binary into ./bin
func Build() error {
	mg.Deps(makeLocalBin)
	return sh.RunWith(
		map[string]string{"CGO_ENABLED": "0"},
		"go", "build", "-o", localBinary(binaryName), "./cmd/"+binaryName,
	)
}

// Cleans build and test output.
func Clean() {
	fmt.Println("Cleaning...")
	for _, path := range []string{LocalBin, testReports} {
		os.RemoveAll(path)
	}
}

// Migrate runs the clickhouse migrations using the local config
func Migrate() error {
	mg.Deps(Build)
	return sh.RunV(localBinary(binaryName), "--migrateDatabase")
}

// LocalDev starts clickhouse, applies the migrations and runs the ingester in the foreground
func LocalDev() error {
	mg.Deps(StartClickHouse)
	if err := waitForClickHouse(); err != nil {
		return err
	}
	mg.Deps(Migrate)
	return sh.RunV(localBinary(binaryName))
}
