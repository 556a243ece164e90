//go:build mage

package main

import (
	"fmt"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
	"github.com/pkg/errors"
)

const golangciLintVersionConstraint = ">= 1.52.0"

// `golangci-lint --version` prints "golangci-lint has version v1.55.2 built with ..."
func golangciLintCheck() error {
	output, err := sh.Output(binaryWithExt("golangci-lint"), "--version")
	if err != nil {
		return errors.Wrap(err, "error running golangci-lint --version")
	}
	return checkVersion("golangci-lint", output, 3, golangciLintVersionConstraint)
}

func lint(args ...string) error {
	mg.Deps(golangciLintCheck)
	args = append([]string{"run", "--timeout", "10m"}, args...)
	output, err := sh.Output(binaryWithExt("golangci-lint"), args...)
	if output != "" {
		fmt.Println(output)
	}
	return err
}

// LintFix runs golangci-lint and applies the fixes it can make
func LintFix() error {
	return lint("--fix")
}

// CheckLint runs golangci-lint without modifying files
func CheckLint() error {
	return lint()
}
