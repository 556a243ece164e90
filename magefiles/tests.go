//go:build mage

package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

const (
	gotestsumPackage = "gotest.tools/gotestsum@v1.8.2"
	testReports      = "test_reports"
)

// gotestsum installs gotestsum into ./bin unless it is already there
func gotestsum() error {
	mg.Deps(makeLocalBin)
	if _, err := os.Stat(localBinary("gotestsum")); err == nil {
		return nil
	}
	return sh.RunWith(map[string]string{"GOBIN": LocalBin}, "go", "install", gotestsumPackage)
}

// Tests runs every package's tests with the race detector and writes junit and coverage reports to ./test_reports
func Tests() error {
	mg.Deps(gotestsum)

	packages, err := sh.Output("go", "list", "./internal/...", "./cmd/...")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(testReports, os.ModePerm); err != nil {
		return err
	}

	args := []string{
		"--junitfile", filepath.Join(testReports, "junit.xml"),
		"--", "-race", "-coverprofile", filepath.Join(testReports, "coverage.out"),
	}
	args = append(args, strings.Fields(packages)...)
	return sh.RunV(localBinary("gotestsum"), args...)
}
