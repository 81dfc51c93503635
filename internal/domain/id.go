package domain

import "github.com/rs/xid"

// NewSessionID returns a globally unique id without coordination: a seconds
// timestamp prefix followed by machine, process and a randomly seeded
// counter, rendered in lowercase base32hex (20 chars).
func NewSessionID() SessionID { return SessionID(xid.New().String()) }
