package httpservice

import (
	"fmt"
	"time"
)

const defaultShutdownTimeout = 10 * time.Second

type Config struct {
	Port            uint32
	EnablePprof     bool
	ShutdownTimeout time.Duration
}

func (c Config) Validate() error {
	if c.Port == 0 {
		return fmt.Errorf("missing port")
	}
	return nil
}

func (c Config) address() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c Config) shutdownTimeout() time.Duration {
	if c.ShutdownTimeout <= 0 {
		return defaultShutdownTimeout
	}
	return c.ShutdownTimeout
}
