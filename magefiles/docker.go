//go:build mage

package main

import (
	"time"

	"github.com/magefile/mage/sh"
	"github.com/pkg/errors"
)

const (
	dockerVersionConstraint = ">= 19.0.0"
	clickhouseContainer     = "firehose-clickhouse"
	clickhouseImage         = "clickhouse/clickhouse-server:24.3"
)

func dockerBinary() string {
	return binaryWithExt("docker")
}

func dockerOutput(args ...string) (string, error) {
	return sh.Output(dockerBinary(), args...)
}

func dockerRun(args ...string) error {
	return sh.Run(dockerBinary(), args...)
}

// `docker --version` prints "Docker version 24.0.7, build afdd53b"
func dockerCheck() error {
	output, err := dockerOutput("--version")
	if err != nil {
		return errors.Wrap(err, "error running docker --version")
	}
	return checkVersion("docker", output, 2, dockerVersionConstraint)
}

// StartClickHouse runs a local clickhouse server on the native port
func StartClickHouse() error {
	return dockerRun("run", "-d", "--name="+clickhouseContainer, "-p=9000:9000", "-p=8123:8123",
		"-e", "CLICKHOUSE_SKIP_USER_SETUP=1", clickhouseImage)
}

// StopClickHouse removes the local clickhouse server
func StopClickHouse() error {
	return dockerRun("rm", "-f", clickhouseContainer)
}

func waitForClickHouse() error {
	for i := 0; i < 30; i++ {
		if _, err := dockerOutput("exec", clickhouseContainer, "clickhouse-client", "--query", "SELECT 1"); err == nil {
			return nil
		}
		time.Sleep(time.Second)
	}
	return errors.New("clickhouse did not become ready within 30s")
}
