package canflash

import (
	"fmt"
	"log"
	"path/filepath"
	"runtime"
	"time"
)

// FilterPolicy is the acceptance state a channel starts in.
type FilterPolicy int

const (
	// PolicyRejectAll closes the filter; nothing is received until a filter
	// is added.
	PolicyRejectAll FilterPolicy = iota
	PolicyAcceptAll
)

func (p FilterPolicy) String() string {
	if p == PolicyAcceptAll {
		return "accept all"
	}
	return "reject all"
}

type channelConfig struct {
	timing        Timing
	defaultFilter FilterPolicy
	blocking      bool
	readTimeout   time.Duration
	debug         bool
	onEvent       func(ChannelEvent)
}

func defaultChannelConfig() channelConfig {
	return channelConfig{
		timing:        DefaultTiming,
		defaultFilter: PolicyRejectAll,
	}
}

type ChannelOption func(*channelConfig) error

func WithTiming(t Timing) ChannelOption {
	return func(c *channelConfig) error {
		c.timing = t
		return nil
	}
}

func WithDefaultFilterPolicy(p FilterPolicy) ChannelOption {
	return func(c *channelConfig) error {
		switch p {
		case PolicyRejectAll, PolicyAcceptAll:
		default:
			return fmt.Errorf("unknown filter policy: %d", p)
		}
		c.defaultFilter = p
		return nil
	}
}

// WithBlocking makes Receive wait for a frame instead of returning
// ErrWouldBlock.
func WithBlocking(blocking bool) ChannelOption {
	return func(c *channelConfig) error {
		c.blocking = blocking
		return nil
	}
}

// WithReadTimeout bounds ReceiveBlocking. Zero waits forever.
func WithReadTimeout(d time.Duration) ChannelOption {
	return func(c *channelConfig) error {
		if d < 0 {
			return fmt.Errorf("negative read timeout: %v", d)
		}
		c.readTimeout = d
		return nil
	}
}

func WithDebug(debug bool) ChannelOption {
	return func(c *channelConfig) error {
		c.debug = debug
		return nil
	}
}

func WithOnEvent(fn func(ChannelEvent)) ChannelOption {
	return func(c *channelConfig) error {
		c.onEvent = fn
		return nil
	}
}

// logMessage is the default sink for driver and channel messages.
func logMessage(msg string) {
	_, file, no, ok := runtime.Caller(2)
	if ok {
		log.Printf("%s#%d %v\n", filepath.Base(file), no, msg)
	} else {
		log.Println(msg)
	}
}
