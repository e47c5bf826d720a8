// Package singlestep keeps the reference-counted request for
// instruction-granular execution.
package singlestep

import (
	"github.com/zboralski/faultplugin/internal/log"
	"go.uber.org/zap"
)

// Switch is the host capability the controller drives.
type Switch interface {
	SetSingleStep(enabled bool)
	FlushCache()
}

// Controller counts outstanding single-step requests. Every change
// reprograms the host and flushes its translation cache.
type Controller struct {
	sw    Switch
	count int
	log   *log.Logger
}

// New creates a controller with no outstanding requests.
func New(sw Switch, logger *log.Logger) *Controller {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Controller{sw: sw, log: logger}
}

// Add raises a request.
func (c *Controller) Add() {
	c.count++
	c.apply()
}

// Remove drops a request. Removing with none outstanding is a no-op.
func (c *Controller) Remove() {
	if c.count == 0 {
		c.log.Warn("single-step release without request")
		return
	}
	c.count--
	c.apply()
}

// Count returns the number of outstanding requests.
func (c *Controller) Count() int {
	return c.count
}

func (c *Controller) apply() {
	c.log.Debug("single-step", zap.Int("count", c.count))
	c.sw.SetSingleStep(c.count > 0)
	c.sw.FlushCache()
}
