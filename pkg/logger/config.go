// pkg/logger/config.go
package logger

// Format 日志输出格式
type Format string

const (
	// JSONFormat JSON 格式，用于生产环境
	JSONFormat Format = "json"
	// ConsoleFormat 控制台格式，用于开发环境
	ConsoleFormat Format = "console"
)

// RotationConfig 日志切割配置
type RotationConfig struct {
	// MaxSize 单文件最大大小（MB）
	MaxSize int `mapstructure:"max_size" json:"max_size"`
	// MaxBackups 最大保留文件数
	MaxBackups int `mapstructure:"max_backups" json:"max_backups"`
	// MaxAge 最大保留天数
	MaxAge int `mapstructure:"max_age" json:"max_age"`
	// Compress 是否压缩旧文件
	Compress bool `mapstructure:"compress" json:"compress"`
}

// Config 日志配置
type Config struct {
	// Level 日志级别: debug/info/warn/error
	Level string `mapstructure:"level" json:"level"`
	// Format 输出格式: json/console
	Format Format `mapstructure:"format" json:"format"`
	// EnableConsole 是否输出到控制台
	EnableConsole bool `mapstructure:"enable_console" json:"enable_console"`
	// EnableFile 是否输出到文件
	EnableFile bool `mapstructure:"enable_file" json:"enable_file"`
	// OutputPath 日志文件路径
	OutputPath string `mapstructure:"output_path" json:"output_path"`
	// Rotation 切割配置
	Rotation RotationConfig `mapstructure:"rotation" json:"rotation"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Level:         "info",
		Format:        ConsoleFormat,
		EnableConsole: true,
		EnableFile:    false,
		OutputPath:    "logs/app.log",
		Rotation: RotationConfig{
			MaxSize:    100,
			MaxBackups: 10,
			MaxAge:     30,
			Compress:   true,
		},
	}
}
