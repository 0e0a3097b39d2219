package config

import (
	"fmt"
	"time"
)

// DataPlaneConfig configures the decision listeners: HTTP for the proxy
// sub-request and the JSON API, gRPC for service callers.
type DataPlaneConfig struct {
	Host     string `envconfig:"HOST" default:"0.0.0.0"`
	HTTPPort string `envconfig:"HTTP_PORT" default:"8001"`
	GRPCPort string `envconfig:"GRPC_PORT" default:"50051"`

	// HTTP
	ReadTimeout       time.Duration `envconfig:"READ_TIMEOUT" default:"5s"`
	WriteTimeout      time.Duration `envconfig:"WRITE_TIMEOUT" default:"5s"`
	ReadHeaderTimeout time.Duration `envconfig:"READ_HEADER_TIMEOUT" default:"2s"`
	IdleTimeout       time.Duration `envconfig:"IDLE_TIMEOUT" default:"120s"`

	// gRPC specific
	MaxConcurrentStreams uint32        `envconfig:"MAX_CONCURRENT_STREAMS" default:"100"`
	KeepaliveTime        time.Duration `envconfig:"KEEPALIVE_TIME" default:"120s"`
	KeepaliveTimeout     time.Duration `envconfig:"KEEPALIVE_TIMEOUT" default:"20s"`
	MaxConnectionAge     time.Duration `envconfig:"MAX_CONNECTION_AGE" default:"300s"`
}

// HTTPAddress returns the HTTP listen address.
func (c *DataPlaneConfig) HTTPAddress() string {
	return c.Host + ":" + c.HTTPPort
}

// GRPCAddress returns the gRPC listen address.
func (c *DataPlaneConfig) GRPCAddress() string {
	return c.Host + ":" + c.GRPCPort
}

// Validate performs validation on the DataPlaneConfig.
func (c *DataPlaneConfig) Validate() error {
	// Validate host
	if err := validateHost(c.Host, "data plane"); err != nil {
		return err
	}

	// Validate ports
	if err := validatePort(c.HTTPPort, "data plane http"); err != nil {
		return err
	}
	if err := validatePort(c.GRPCPort, "data plane grpc"); err != nil {
		return err
	}

	// Both listeners share the host
	if c.HTTPPort == c.GRPCPort {
		return fmt.Errorf("data plane http and grpc ports must differ, both are %s", c.HTTPPort)
	}
	return nil
}
