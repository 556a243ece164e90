package common

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	commonconfig "github.com/firehoseproject/firehose/internal/common/config"
	"github.com/firehoseproject/firehose/internal/common/health"
)

const envPrefix = "FIREHOSE"

// BindCommandlineArguments makes every registered pflag available through viper
func BindCommandlineArguments() {
	err := viper.BindPFlags(pflag.CommandLine)
	if err != nil {
		log.Error(err)
		os.Exit(-1)
	}
}

// LoadConfig reads config.yaml from defaultPath, merges any user supplied config files on top and then applies
// environment overrides of the form FIREHOSE_SECTION_KEY.  Options are applied to the viper instance before the
// result is unmarshalled into config.
func LoadConfig(config interface{}, defaultPath string, overrideConfigs []string, opts ...func(v *viper.Viper) error) *viper.Viper {
	v := viper.New()
	v.SetConfigName("config")
	v.AddConfigPath(defaultPath)
	if err := v.ReadInConfig(); err != nil {
		log.Errorf("Error reading base config path=%s: %v", defaultPath, err)
		os.Exit(-1)
	}
	log.Infof("Read base config from %s", v.ConfigFileUsed())

	for _, overrideConfig := range overrideConfigs {
		v.SetConfigFile(overrideConfig)
		err := v.MergeInConfig()
		if err != nil {
			log.Errorf("Error reading config from %s: %v", overrideConfig, err)
			os.Exit(-1)
		}
		log.Infof("Read config from %s", v.ConfigFileUsed())
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	for _, opt := range opts {
		if err := opt(v); err != nil {
			log.Errorf("Error configuring viper: %v", err)
			os.Exit(-1)
		}
	}

	if err := v.Unmarshal(config, commonconfig.CustomHooks...); err != nil {
		log.Error(err)
		os.Exit(-1)
	}
	return v
}

func ConfigureLogging() {
	log.SetFormatter(&log.TextFormatter{ForceColors: true, FullTimestamp: true})
	log.SetOutput(os.Stdout)
}

// SetLogLevel parses level and applies it to the standard logger.  An empty level leaves the current one in place.
func SetLogLevel(level string) {
	if level == "" {
		return
	}
	parsed, err := log.ParseLevel(level)
	if err != nil {
		log.WithError(err).Warnf("Unknown log level %q, keeping %s", level, log.GetLevel())
		return
	}
	log.SetLevel(parsed)
}

// ServeMetricsAndHealth exposes the default prometheus registry on /metrics and, if checker is non-nil, a /health
// endpoint backed by checker.  The returned function stops the server.
func ServeMetricsAndHealth(port uint16, checker health.Checker) (shutdown func()) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if checker != nil {
		health.Register(mux, checker)
	}
	return ServeHttp(port, mux)
}

func ServeHttp(port uint16, mux http.Handler) (shutdown func()) {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Infof("Starting http server listening on %d", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Errorf("Http server listening on %d failed", port)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		log.Infof("Stopping http server listening on %d", port)
		if err := srv.Shutdown(ctx); err != nil {
			log.WithError(err).Warnf("Http server listening on %d did not stop cleanly", port)
		}
	}
}
