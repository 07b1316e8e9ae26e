package features

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

const envPrefix = "PINGUP_FEATURE_"

// ValidateConfig rejects flag names that are not defined.
func ValidateConfig(flags map[string]bool) error {
	for name := range flags {
		if !isDefined(name) {
			return fmt.Errorf("unknown feature flag: %s", name)
		}
	}
	return nil
}

// LoadFromConfig applies the "features" section of the config file.
// Flags missing from the map return to their defaults so that removing an
// entry on reload behaves as expected.
func (fm *FlagManager) LoadFromConfig(flags map[string]bool) error {
	if err := ValidateConfig(flags); err != nil {
		return err
	}

	for _, def := range DefaultFlags {
		enabled := def.DefaultValue
		if v, ok := flags[def.Name]; ok {
			enabled = v
		}
		if err := fm.set(def.Name, enabled); err != nil {
			return err
		}
	}
	return nil
}

// LoadFromEnvironment applies overrides of the form
// PINGUP_FEATURE_<FLAG_NAME>=true|false. Unknown names and unparsable
// values are ignored.
func (fm *FlagManager) LoadFromEnvironment() {
	for name, value := range GetEnvironmentOverrides() {
		enabled, err := strconv.ParseBool(value)
		if err != nil {
			continue
		}
		_ = fm.set(name, enabled)
	}
}

// GetEnvironmentOverrides returns flag name to raw value for every
// PINGUP_FEATURE_ variable that names a defined flag.
func GetEnvironmentOverrides() map[string]string {
	overrides := make(map[string]string)
	for _, env := range os.Environ() {
		if !strings.HasPrefix(env, envPrefix) {
			continue
		}
		key, value, ok := strings.Cut(env, "=")
		if !ok {
			continue
		}
		name := strings.ToLower(strings.TrimPrefix(key, envPrefix))
		if isDefined(name) {
			overrides[name] = value
		}
	}
	return overrides
}

func isDefined(name string) bool {
	for _, def := range DefaultFlags {
		if def.Name == name {
			return true
		}
	}
	return false
}
