package rq

import (
	"github.com/DoNewsCode/core/contract"
	"github.com/go-kit/kit/log"
)

type providersOption struct {
	driver            Driver
	driverConstructor func(args DriverConstructorArgs) (Driver, error)
}

// ProvidersOptionFunc customizes Providers.
type ProvidersOptionFunc func(options *providersOption)

// WithDriver makes every bus built by Providers share driver instead of
// a redis driver looked up by name. It supersedes WithDriverConstructor.
func WithDriver(driver Driver) ProvidersOptionFunc {
	return func(options *providersOption) {
		options.driver = driver
	}
}

// WithDriverConstructor replaces how Providers builds the rq driver of each bus. The default looks up
// the redis client named by the bus configuration through otredis.Maker. Ignored when WithDriver is set.
func WithDriverConstructor(f func(args DriverConstructorArgs) (Driver, error)) ProvidersOptionFunc {
	return func(options *providersOption) {
		options.driverConstructor = f
	}
}

// DriverConstructorArgs are handed to the function set by WithDriverConstructor, once per bus.
type DriverConstructorArgs struct {
	// Name is the bus name, the key under "rq" in the configuration.
	Name      string
	Conf      Configuration
	Logger    log.Logger
	AppName   contract.AppName
	Env       contract.Env
	Populator contract.DIPopulator
}
