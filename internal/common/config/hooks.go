package config

import (
	"reflect"
	"strings"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

var CustomHooks = []viper.DecoderConfigOption{
	viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		ClickHouseCompressionHookFunc(),
	)),
}

func ClickHouseCompressionHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		// check that src and target types are valid
		if f.Kind() != reflect.String || t != reflect.TypeOf(clickhouse.CompressionLZ4) {
			return data, nil
		}
		return ParseClickHouseCompression(data.(string))
	}
}

func ParseClickHouseCompression(s string) (clickhouse.CompressionMethod, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "lz4":
		return clickhouse.CompressionLZ4, nil
	case "none":
		return clickhouse.CompressionNone, nil
	case "zstd":
		return clickhouse.CompressionZSTD, nil
	case "gzip":
		return clickhouse.CompressionGZIP, nil
	case "deflate":
		return clickhouse.CompressionDeflate, nil
	case "br", "brotli":
		return clickhouse.CompressionBrotli, nil
	default:
		return clickhouse.CompressionNone, errors.Errorf("unknown clickhouse compression method %q", s)
	}
}
