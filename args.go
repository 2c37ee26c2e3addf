package main

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"gavel/api"
)

func ParseArgs() Args {
	// server config
	pflag.String("server-url", "0.0.0.0:8080", "")
	pflag.String("server-id", "", "")

	// db config
	pflag.String("db-user", "", "")
	pflag.String("db-password", "", "")
	pflag.String("db-host", "", "")
	pflag.Int("db-port", 5432, "")
	pflag.String("db-database", "", "")
	pflag.String("db-schema", "", "")

	// redis config
	pflag.String("redis-addr", "", "")
	pflag.String("redis-password", "", "")
	pflag.Int("redis-db", 0, "")
	pflag.String("redis-key-prefix", "gavel:", "")
	pflag.String("redis-consumer-group", "gavel-close-workers", "")

	// redis stream keys
	pflag.String("redis-stream-key-for-bids", "bid-events", "")
	pflag.String("redis-stream-key-for-close", "close-requests", "")

	// auction config
	pflag.Int64("auction-default-increment", 100, "")
	pflag.Duration("auction-sweep-interval", 5*time.Second, "")
	pflag.Duration("auction-bid-lock-timeout", 5*time.Second, "")

	// bind pflag to viper
	pflag.Parse()
	viper.BindPFlags(pflag.CommandLine)
	viper.AutomaticEnv()
	viper.SetEnvPrefix("GAVEL")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	serverID := viper.GetString("server-id")
	if serverID == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "gavel"
		}
		serverID = hostname
	}

	// initial arguments
	return Args{
		ServerURL: viper.GetString("server-url"),
		ServerConfig: api.ServerConfig{
			ID: serverID,
			DB: api.DBConfig{
				User:     viper.GetString("db-user"),
				Password: viper.GetString("db-password"),
				Host:     viper.GetString("db-host"),
				Port:     viper.GetInt("db-port"),
				Database: viper.GetString("db-database"),
				Schema:   viper.GetString("db-schema"),
			},
			Redis: api.RedisConfig{
				Addr:          viper.GetString("redis-addr"),
				Password:      viper.GetString("redis-password"),
				DB:            viper.GetInt("redis-db"),
				KeyPrefix:     viper.GetString("redis-key-prefix"),
				ConsumerGroup: viper.GetString("redis-consumer-group"),
				StreamKeys: api.RedisStreamKeys{
					Bids:  viper.GetString("redis-stream-key-for-bids"),
					Close: viper.GetString("redis-stream-key-for-close"),
				},
			},
			Auction: api.AuctionConfig{
				DefaultIncrement: viper.GetInt64("auction-default-increment"),
				SweepInterval:    viper.GetDuration("auction-sweep-interval"),
				BidLockTimeout:   viper.GetDuration("auction-bid-lock-timeout"),
			},
		},
	}
}

type Args struct {
	ServerURL    string
	ServerConfig api.ServerConfig
}

func (args Args) Validate() bool {
	return args.ServerURL != "" &&
		args.ServerConfig.DB.Host != "" &&
		args.ServerConfig.DB.Database != "" &&
		args.ServerConfig.Redis.Addr != ""
}
