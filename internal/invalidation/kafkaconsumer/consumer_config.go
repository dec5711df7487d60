package kafkaconsumer

import "time"

type Config struct {
	Brokers             []string
	Topic               string
	GroupID             string
	SessionTimeout      time.Duration
	Heartbeat           time.Duration
	RebalanceTimeout    time.Duration
	InitialOffsetOldest bool
	// DedupeWindow drops repeat requests for one bucket; zero disables it.
	DedupeWindow time.Duration
	DedupeSize   int
}

func (c Config) withDefaults() Config {
	if c.Topic == "" {
		c.Topic = "weather-refresh-requests"
	}
	if c.GroupID == "" {
		c.GroupID = "weather-refresher"
	}
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = 30 * time.Second
	}
	if c.Heartbeat <= 0 {
		c.Heartbeat = 3 * time.Second
	}
	if c.RebalanceTimeout <= 0 {
		c.RebalanceTimeout = 30 * time.Second
	}
	if c.DedupeSize <= 0 {
		c.DedupeSize = 4096
	}
	return c
}
