package server

type Config struct {
	SocketConfig struct{
		PingPeriodTime int `default:"8000"`
		PongWaitTime int `default:"10000"`
		WriteWaitTime int `default:"5000"`
		ReceivedMessageDecrementCount int `default:"20"`
		OutgoingQueueSize int `default:"64"`
	}
	DBConfig struct{
		ConnString string `default:"mongo"`
		Name string `default:"billiards"`
	}
	RedisConfig struct{
		ConnString string `default:"redis:6379"`
		PoolSize int `default:"10"`
	}
	RabbitMQConfig struct{
		ConnString string
	}
	AuthConfig struct{
		JWTSecret string `default:"asdasdqweqasdqwwe"`
		TokenExpireTime int `default:"86400"`
	}
	RoomConfig struct{
		CodeLength int `default:"6"`
		MinPlayers int `default:"2"`
		MaxPlayers int `default:"8"`
		DefaultMaxPlayers int `default:"4"`
		AllowRejoinReset bool `default:"true"`
	}
	Port int `default:"7350"`
	MaxRequestBodySize int64 `default:"4096"`
	DevelopmentEnabled bool `default:"false"`
	NotificationConfig struct{
		AppKey string
		AppID string
	}
}
