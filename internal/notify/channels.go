// Package notify delivers escalated alerts to their notification channels.
package notify

// Channel names used in the channels lists of the monitoring config
const (
	ChannelLog     = "log"
	ChannelNATS    = "nats"
	ChannelEmail   = "email"
	ChannelMailgun = "mailgun"
)
