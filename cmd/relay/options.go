package main

import (
	"github.com/ahrav/fetch-relay/internal/app/relay"
	"github.com/ahrav/fetch-relay/internal/config"
	"github.com/ahrav/fetch-relay/internal/infra/fetch"
	"github.com/ahrav/fetch-relay/internal/infra/webdav"
)

// idleConnsPerWorker sizes each client's idle pool per host.
const idleConnsPerWorker = 2

func fetchOptions(cfg *config.Config) fetch.Options {
	opts := fetch.DefaultOptions()
	opts.Timeout = cfg.Source.Timeout
	opts.ProxyURL = cfg.Source.ProxyURL
	opts.InsecureSkipVerify = cfg.Source.InsecureSkipVerify
	opts.MaxIdleConnsPerHost = cfg.Pool.Workers * idleConnsPerWorker
	return opts
}

func sinkOptions(cfg *config.Config) webdav.Options {
	opts := webdav.DefaultOptions()
	opts.Endpoint = cfg.Sink.Endpoint
	opts.Username = cfg.Sink.Username
	opts.Password = cfg.Sink.Password
	opts.InsecureSkipVerify = cfg.Sink.InsecureSkipVerify
	opts.MaxIdleConnsPerHost = cfg.Pool.Workers * idleConnsPerWorker
	return opts
}

func relayOptions(cfg *config.Config) relay.Options {
	return relay.Options{
		Workers:      cfg.Pool.Workers,
		BatchSize:    cfg.Queue.BatchSize,
		IdleInterval: cfg.Queue.IdleInterval,
	}
}
