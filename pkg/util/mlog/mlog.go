package mlog

import (
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// Log wraps logrus.Logger and holds information of logging file.
type Log struct {
	*logrus.Logger

	file     *os.File
	location string
}

// New creates Log object.
func New(location string) (*Log, error) {
	l := &Log{}

	l.Logger = logrus.New()
	l.location = location

	if l.location == "stderr" {
		l.Out = os.Stderr
		l.file = nil
	} else {
		f, err := os.OpenFile(location, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0644)
		if err != nil {
			return nil, err
		}
		l.Out = f
		l.file = f
	}

	return l, nil
}

var (
	std *Log
	mu  sync.Mutex
)

// Init sets the process-wide logger with the given location.
// Location "stderr" prints out to the standard error.
func Init(location string) error {
	l, err := New(location)
	if err != nil {
		return err
	}

	mu.Lock()
	std = l
	mu.Unlock()
	return nil
}

func get() *Log {
	mu.Lock()
	defer mu.Unlock()

	if std == nil {
		// Not initialized yet, fall back to stderr.
		std, _ = New("stderr")
	}
	return std
}

// GetPackageLogger returns a logger entry tagged with the given package name.
func GetPackageLogger(pkg string) *logrus.Entry {
	return get().WithField("package", pkg)
}

// GetMethodLogger returns a logger entry tagged with the given method name.
func GetMethodLogger(l *logrus.Entry, method string) *logrus.Entry {
	return l.WithField("method", method)
}

// GetFunctionLogger returns a logger entry tagged with the given function name.
func GetFunctionLogger(l *logrus.Entry, function string) *logrus.Entry {
	return l.WithField("function", function)
}
