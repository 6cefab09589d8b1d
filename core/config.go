/* ipcpd - RINA IPC Process Daemon
 *
 * Copyright (C) 2024 RINASharp contributors.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package core

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/pelletier/go-toml"
)

var config *toml.Tree
var configDir string

// LoadConfig loads the configuration from the specified file. Files ending in .yml or .yaml are parsed
// as YAML, everything else as TOML.
func LoadConfig(file string) error {
	tree, err := ReadConfigFile(file)
	if err != nil {
		return err
	}
	config = tree
	configDir = filepath.Dir(file)
	return nil
}

// ReadConfigFile parses a configuration file into a tree without installing it.
func ReadConfigFile(file string) (*toml.Tree, error) {
	switch strings.ToLower(filepath.Ext(file)) {
	case ".yml", ".yaml":
		raw, err := os.ReadFile(file)
		if err != nil {
			return nil, err
		}
		return ParseYAMLConfig(raw)
	default:
		tree, err := toml.LoadFile(file)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		return tree, nil
	}
}

// ParseYAMLConfig converts a YAML document into the same tree representation used for TOML.
func ParseYAMLConfig(raw []byte) (*toml.Tree, error) {
	values := make(map[string]interface{})
	if err := yaml.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	tree, err := toml.TreeFromMap(values)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return tree, nil
}

// SetConfig installs an already parsed configuration tree. A nil tree resets to defaults.
func SetConfig(tree *toml.Tree) {
	config = tree
}

// ResolveConfigFileRelPath resolves a path relative to the directory of the loaded configuration file.
func ResolveConfigFileRelPath(target string) string {
	target = os.ExpandEnv(target)
	if target == "" || filepath.IsAbs(target) || configDir == "" {
		return target
	}
	return filepath.Join(configDir, target)
}

func getConfigValue(key string) interface{} {
	if config == nil {
		return nil
	}
	return config.Get(key)
}

func toInt64(valRaw interface{}) (int64, bool) {
	switch v := valRaw.(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case uint64:
		if v > math.MaxInt64 {
			return 0, false
		}
		return int64(v), true
	case float64:
		if v != math.Trunc(v) {
			return 0, false
		}
		return int64(v), true
	}
	return 0, false
}

// GetConfigIntDefault returns the integer configuration value at the specified key or the specified default value if it does not exist.
func GetConfigIntDefault(key string, def int) int {
	val, ok := toInt64(getConfigValue(key))
	if ok && val >= math.MinInt32 && val <= math.MaxInt32 {
		return int(val)
	}
	return def
}

// GetConfigUint16Default returns the integer configuration value at the specified key or the specified default value if it does not exist.
func GetConfigUint16Default(key string, def uint16) uint16 {
	val, ok := toInt64(getConfigValue(key))
	if ok && val > 0 && val <= math.MaxUint16 {
		return uint16(val)
	}
	return def
}

// GetConfigStringDefault returns the string configuration value at the specified key or the specified default value if it does not exist.
func GetConfigStringDefault(key string, def string) string {
	if val, ok := getConfigValue(key).(string); ok {
		return val
	}
	return def
}

// GetConfigBoolDefault returns the boolean configuration value at the specified key or the specified default value if it does not exist.
func GetConfigBoolDefault(key string, def bool) bool {
	if val, ok := getConfigValue(key).(bool); ok {
		return val
	}
	return def
}

// GetConfigDurationMsDefault reads an integer number of milliseconds.
func GetConfigDurationMsDefault(key string, def time.Duration) time.Duration {
	val, ok := toInt64(getConfigValue(key))
	if ok && val >= 0 {
		return time.Duration(val) * time.Millisecond
	}
	return def
}
