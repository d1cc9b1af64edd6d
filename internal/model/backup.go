package model

import "time"

// BackupSnapshot describes a point-in-time copy of a table written before mutation.
type BackupSnapshot struct {
	Timestamp   time.Time
	SourceTable TableRef
	Location    string
	Prefix      string
	ObjectCount int
	Bytes       int64
	Verified    bool
}
