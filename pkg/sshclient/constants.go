package sshclient

import "time"

var (
	SSHDialTimeout    = 10 * time.Second
	SSHWaitMaxElapsed = 2 * time.Minute
	SSHWaitInterval   = 2 * time.Second
)
