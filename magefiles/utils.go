//go:build mage

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	semver "github.com/Masterminds/semver/v3"
	"github.com/pkg/errors"
)

var LocalBin = filepath.Join(os.Getenv("PWD"), "bin")

func binaryWithExt(name string) string {
	if runtime.GOOS == "windows" {
		return fmt.Sprintf("%s.exe", name)
	}
	return name
}

// localBinary is the path of a tool or build output kept under ./bin
func localBinary(name string) string {
	return binaryWithExt(filepath.Join(LocalBin, name))
}

func makeLocalBin() error {
	return os.MkdirAll(LocalBin, os.ModePerm)
}

// checkVersion parses the version found at field index of a tool's --version output and tests it against
// constraint.
func checkVersion(tool, output string, field int, constraint string) error {
	fields := strings.Fields(output)
	if len(fields) <= field {
		return errors.Errorf("unexpected %s version output: %s", tool, output)
	}
	version, err := semver.NewVersion(strings.Trim(fields[field], "v,"))
	if err != nil {
		return errors.Wrapf(err, "error parsing %s version", tool)
	}
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return errors.Wrapf(err, "error parsing constraint %q", constraint)
	}
	if !c.Check(version) {
		return errors.Errorf("found %s version %v but it failed constraint %v", tool, version, constraint)
	}
	return nil
}
