package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load fills config from a file merged over the struct's current values,
// with environment variables taking precedence (dots become underscores,
// e.g. REDIS_LEADERBOARD_PREFIX). config must be a pointer to the config
// struct; its pre-set fields act as defaults. A missing file is not an
// error, so an env-only deployment works.
func Load(file string, config any) error {
	v := viper.New()
	m := make(map[string]any)

	if err := mapstructure.Decode(config, &m); err != nil {
		return fmt.Errorf("mapstructure: %v", err)
	}

	if err := v.MergeConfigMap(m); err != nil {
		return fmt.Errorf("merge config map: %v", err)
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.MergeInConfig(); err != nil {
			if _, ok := err.(*os.PathError); !ok {
				return fmt.Errorf("read config from file %s: %v", file, err)
			}
		}
	}

	if err := v.Unmarshal(config); err != nil {
		return fmt.Errorf("unmarshal config: %v", err)
	}

	return nil
}
