package config

import (
	"sync"
)

type GlobalConfig struct {
	instance   *Config
	configPath string
}

var (
	global   *GlobalConfig
	once     sync.Once
	globalMu sync.RWMutex
)

func Init() {
	once.Do(func() {
		global = &GlobalConfig{}
	})
}

func SetOnce(config *Config, cfgPath string) {
	Init()
	globalMu.Lock()
	defer globalMu.Unlock()
	if global.instance != nil {
		panic("AppConfig already initialized")
	}
	global.instance = config
	global.configPath = cfgPath
}

func GetCfg() *Config {
	cfg, ok := GetCfgIfSet()
	if !ok {
		panic("AppConfig not initialized")
	}
	return cfg
}

// GetCfgIfSet returns a copy of the process config, or false before SetOnce.
func GetCfgIfSet() (*Config, bool) {
	Init()
	globalMu.RLock()
	defer globalMu.RUnlock()
	if global.instance == nil {
		return nil, false
	}
	cloned := *global.instance
	return &cloned, true
}

func GetConfigPath() string {
	Init()
	globalMu.RLock()
	defer globalMu.RUnlock()
	return global.configPath
}
