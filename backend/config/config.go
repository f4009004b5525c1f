package config

import "github.com/spf13/viper"

type Config struct {
	Running struct {
		// TCP 监听地址，如 :7311
		Addr string `mapstructure:"addr"`
		// websocket 桥监听地址，留空则不起
		WSAddr string `mapstructure:"wsAddr"`
	} `mapstructure:"running"`
	Document struct {
		Path string `mapstructure:"path"`
		// 定时保存间隔（秒），0 表示只按操作通知保存
		SaveIntervalSec int `mapstructure:"saveIntervalSec"`
	} `mapstructure:"document"`
	Mysql struct {
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"mysql"`
	Redis struct {
		Addrs    []string `mapstructure:"addrs"`
		Password string   `mapstructure:"password"`
	} `mapstructure:"redis"`
	Kafka struct {
		Brokers []string `mapstructure:"brokers"`
		Topic   string   `mapstructure:"topic"`
	} `mapstructure:"kafka"`
	Auth struct {
		// true 时必须配 mysql，握手凭据交给用户库校验
		Required bool `mapstructure:"required"`
	} `mapstructure:"auth"`
}

// Load 读配置，兼容从项目根目录或 backend 目录启动
func Load() (*Config, error) {
	cfg := &Config{}
	v := viper.New()
	v.SetConfigName("collabConfig")
	v.SetConfigType("yaml")
	v.AddConfigPath("./backend/config")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")
	v.SetDefault("running.addr", ":7311")
	v.SetDefault("document.path", "./document.txt")
	if err := v.ReadInConfig(); err != nil {
		// 没有配置文件时全部走默认值
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
