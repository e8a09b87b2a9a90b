package monitor

import (
	"sync"
	"time"

	"github.com/t77yq/healthwatch/internal/model"
)

// ChannelKey builds the cooldown key of a channel and alert type pair
func ChannelKey(channel string, alertType model.AlertType) string {
	return channel + "/" + string(alertType)
}

// DispatchCooldown limits how often one channel is used for one alert type, no matter
// how many alert keys escalate onto it.
type DispatchCooldown struct {
	mu       sync.Mutex
	cooldown time.Duration
	lastSent map[string]time.Time
}

// NewDispatchCooldown creates a cooldown gate
func NewDispatchCooldown(cooldown time.Duration) *DispatchCooldown {
	return &DispatchCooldown{
		cooldown: cooldown,
		lastSent: make(map[string]time.Time),
	}
}

// SetCooldown changes the cooldown for subsequent dispatches
func (c *DispatchCooldown) SetCooldown(cooldown time.Duration) {
	c.mu.Lock()
	c.cooldown = cooldown
	c.mu.Unlock()
}

// TryDispatch reports whether channelKey may be used at now and, if so, records the use
func (c *DispatchCooldown) TryDispatch(channelKey string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if last, ok := c.lastSent[channelKey]; ok && now.Sub(last) < c.cooldown {
		return false
	}
	c.lastSent[channelKey] = now
	return true
}

// LastSent returns when channelKey was last used
func (c *DispatchCooldown) LastSent(channelKey string) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	last, ok := c.lastSent[channelKey]
	return last, ok
}
