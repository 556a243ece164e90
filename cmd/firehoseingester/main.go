package main

import (
	"os"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/firehoseproject/firehose/internal/common"
	"github.com/firehoseproject/firehose/internal/common/config"
	"github.com/firehoseproject/firehose/internal/common/firehosecontext"
	"github.com/firehoseproject/firehose/internal/firehoseingester"
	"github.com/firehoseproject/firehose/internal/firehoseingester/configuration"
	"github.com/firehoseproject/firehose/internal/firehoseingester/sink/clickhousedb"
)

const (
	CustomConfigLocation string = "config"
	MigrateDatabase      string = "migrateDatabase"
	EnvFile              string = "envFile"
)

func init() {
	pflag.StringSlice(CustomConfigLocation, []string{}, "Fully qualified path to application configuration file (for multiple config files repeat this arg or separate paths with commas)")
	pflag.Bool(MigrateDatabase, false, "Migrate database instead of running the ingester")
	pflag.String(EnvFile, "config.env", "Optional dotenv file holding the clickhouse host, user, password and secure settings")
	pflag.Parse()
}

func main() {
	common.ConfigureLogging()
	common.BindCommandlineArguments()

	if err := godotenv.Load(viper.GetString(EnvFile)); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warnf("Could not read %s", viper.GetString(EnvFile))
	}

	var cfg configuration.Configuration
	userSpecifiedConfigs := viper.GetStringSlice(CustomConfigLocation)
	common.LoadConfig(&cfg, "./config/firehoseingester", userSpecifiedConfigs, configuration.BindLegacyEnv)
	common.SetLogLevel(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		config.LogValidationErrors(err)
		os.Exit(1)
	}

	if viper.GetBool(MigrateDatabase) {
		if err := clickhousedb.MigrateDB(firehosecontext.Background(), cfg.ClickHouse); err != nil {
			log.Fatal(err)
		}
		return
	}
	firehoseingester.Run(&cfg)
}
