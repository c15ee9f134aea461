package monitor

import "github.com/sirupsen/logrus"

// AlertSink interface for pluggable alert delivery.
type AlertSink interface {
	Send(message string) error
}

// LogSink writes alerts as warnings.
type LogSink struct {
	Log *logrus.Entry
}

func (s LogSink) Send(message string) error {
	log := s.Log
	if log == nil {
		log = logrus.WithField("component", "alert")
	}
	log.Warn(message)
	return nil
}
