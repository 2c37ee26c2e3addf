package api

import "time"

type ServerConfig struct {
	// ID 是這個服務實例的識別字串，同時作為consumer group內的消費者名稱
	ID string

	DB      DBConfig
	Redis   RedisConfig
	Auction AuctionConfig
}

type DBConfig struct {
	User     string
	Password string
	Host     string
	Port     int
	Database string
	Schema   string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	// KeyPrefix 加在所有key前面，讓多個部署共用同一個Redis
	KeyPrefix     string
	ConsumerGroup string

	StreamKeys RedisStreamKeys
}

type RedisStreamKeys struct {
	// Bids 承載出價事件，所有實例都消費並轉發給自己的SSE訂閱者
	Bids string
	// Close 承載結標請求，同一筆只會被一個實例處理
	Close string
}

type AuctionConfig struct {
	// DefaultIncrement 是商品沒有指定時使用的最低加價幅度
	DefaultIncrement int64
	// SweepInterval 是掃描到期商品的週期
	SweepInterval time.Duration
	// BidLockTimeout 是等待單一商品出價鎖的上限
	BidLockTimeout time.Duration
}
