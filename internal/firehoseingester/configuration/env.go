package configuration

import (
	"strings"

	"github.com/spf13/viper"
)

// Keys of the dotenv file used by earlier deployments, mapped onto the clickhouse section
var legacyEnvKeys = map[string]string{
	"clickhouse.addr":     "host",
	"clickhouse.username": "user",
	"clickhouse.password": "password",
	"clickhouse.secure":   "secure",
}

// BindLegacyEnv lets the clickhouse section be set from the unprefixed host, user, password and secure variables.
// The FIREHOSE_ prefixed variables take precedence.
func BindLegacyEnv(v *viper.Viper) error {
	for key, legacy := range legacyEnvKeys {
		if err := v.BindEnv(key, "FIREHOSE_"+envKey(key), legacy); err != nil {
			return err
		}
	}
	return nil
}

func envKey(key string) string {
	return strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}
