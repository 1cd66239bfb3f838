package config

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

var CustomHooks = []viper.DecoderConfigOption{
	viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		mapstructure.TextUnmarshallerHookFunc(),
		ByteSizeHookFunc(),
	)),
}

// ByteSize is a number of bytes that may be written in config as either a plain integer or a string with a
// binary or decimal unit suffix, e.g. "512", "64KiB", "10MB".
type ByteSize int64

var byteSizeUnits = []struct {
	suffix     string
	multiplier int64
}{
	{"kib", 1 << 10},
	{"mib", 1 << 20},
	{"gib", 1 << 30},
	{"kb", 1000},
	{"mb", 1000 * 1000},
	{"gb", 1000 * 1000 * 1000},
	{"b", 1},
}

// ParseByteSize parses strings such as "10MiB" into a ByteSize.
func ParseByteSize(s string) (ByteSize, error) {
	trimmed := strings.ToLower(strings.TrimSpace(s))
	multiplier := int64(1)
	for _, unit := range byteSizeUnits {
		if strings.HasSuffix(trimmed, unit.suffix) {
			trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, unit.suffix))
			multiplier = unit.multiplier
			break
		}
	}
	n, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return 0, errors.Errorf("invalid byte size %q", s)
	}
	if n < 0 {
		return 0, errors.Errorf("byte size %q cannot be negative", s)
	}
	return ByteSize(n * multiplier), nil
}

// String formats the size using the largest binary unit that keeps at least one whole unit, e.g. "10MiB".
func (b ByteSize) String() string {
	switch {
	case b >= 1<<30 && b%(1<<30) == 0:
		return fmt.Sprintf("%dGiB", int64(b)>>30)
	case b >= 1<<30:
		return fmt.Sprintf("%.1fGiB", float64(b)/(1<<30))
	case b >= 1<<20 && b%(1<<20) == 0:
		return fmt.Sprintf("%dMiB", int64(b)>>20)
	case b >= 1<<20:
		return fmt.Sprintf("%.1fMiB", float64(b)/(1<<20))
	case b >= 1<<10 && b%(1<<10) == 0:
		return fmt.Sprintf("%dKiB", int64(b)>>10)
	case b >= 1<<10:
		return fmt.Sprintf("%.1fKiB", float64(b)/(1<<10))
	default:
		return fmt.Sprintf("%dB", int64(b))
	}
}

func ByteSizeHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		// check that src and target types are valid
		if f.Kind() != reflect.String || t != reflect.TypeOf(ByteSize(0)) {
			return data, nil
		}
		return ParseByteSize(data.(string))
	}
}
