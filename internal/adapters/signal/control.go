package signal

import "github.com/dkeye/Call/internal/core"

func (ctl *SignalWSController) handleHeartbeat(conn *wsSignalConn, f core.Frame) {
	ctl.replyOK(conn, f, struct{}{})
}
