package ipc

import (
	"time"

	"vtunerd/internal/logging"
)

// daemonService reports status and controls the daemon lifecycle.
type daemonService struct {
	conn *connState
}

func (s *daemonService) Status(_ Empty, resp *StatusResponse) error {
	*resp = s.conn.daemon.Status()
	return nil
}

func (s *daemonService) Sessions(req SessionsRequest, resp *SessionsResponse) (err error) {
	defer func(start time.Time) { s.conn.observe("Daemon.Sessions", start, err) }(time.Now())
	records, err := s.conn.daemon.Sessions(s.conn.ctx, req.Device, req.Limit)
	if err != nil {
		return err
	}
	resp.Sessions = records
	return nil
}

func (s *daemonService) Stop(_ Empty, resp *StopResponse) error {
	s.conn.logger.Debug("daemon stop requested")
	s.conn.daemon.Stop()
	resp.Stopped = true
	s.conn.logger.Info("daemon stopped via IPC",
		logging.String(logging.FieldEventType, "daemon_stop"))
	return nil
}
