package watermilldb

import (
	"github.com/ThreeDotsLabs/watermill"
	log "github.com/sirupsen/logrus"
)

type logger struct {
	entry *log.Entry
}

func NewLogger() watermill.LoggerAdapter {
	return &logger{log.WithField("component", "watermill")}
}

func (l *logger) Error(msg string, err error, fields watermill.LogFields) {
	l.entry.WithFields(log.Fields(fields)).WithError(err).Error(msg)
}

func (l *logger) Info(msg string, fields watermill.LogFields) {
	l.entry.WithFields(log.Fields(fields)).Info(msg)
}

func (l *logger) Debug(msg string, fields watermill.LogFields) {
	l.entry.WithFields(log.Fields(fields)).Debug(msg)
}

func (l *logger) Trace(msg string, fields watermill.LogFields) {
	l.entry.WithFields(log.Fields(fields)).Trace(msg)
}

func (l *logger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &logger{l.entry.WithFields(log.Fields(fields))}
}
