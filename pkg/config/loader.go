// pkg/config/loader.go
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Loader 配置加载器
type Loader struct {
	viper *viper.Viper
}

// NewLoader 创建配置加载器
func NewLoader() *Loader {
	return &Loader{
		viper: viper.New(),
	}
}

// LoadFile 加载 YAML 配置文件
// 环境变量以 REMOTECTL_ 前缀覆盖同名配置项
func (l *Loader) LoadFile(configPath string) error {
	l.viper.SetConfigFile(configPath)
	l.viper.SetConfigType("yaml")

	l.viper.SetEnvPrefix("REMOTECTL")
	l.viper.AutomaticEnv()
	l.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := l.viper.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

// Unmarshal 解析整个配置到结构体
func (l *Loader) Unmarshal(target interface{}) error {
	if err := l.viper.Unmarshal(target); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return nil
}

// UnmarshalKey 解析配置中的某个 key 到结构体
func (l *Loader) UnmarshalKey(key string, target interface{}) error {
	if err := l.viper.UnmarshalKey(key, target); err != nil {
		return fmt.Errorf("failed to unmarshal key %s: %w", key, err)
	}
	return nil
}

// Load 加载配置文件并解析到结构体，cmd 入口的便捷封装
func Load(configPath string, target interface{}) error {
	l := NewLoader()
	if err := l.LoadFile(configPath); err != nil {
		return err
	}
	return l.Unmarshal(target)
}
