package apexunitlib

import (
	"fmt"
	"strings"
	"sync"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
)

// LeveledLogger routes go-retryablehttp's logging through logrus. Everything
// below warnings is logged at debug level to keep regular output focused on the run.
type LeveledLogger struct{}

func (l LeveledLogger) format(s string, i ...interface{}) string {
	builder := strings.Builder{}
	builder.WriteString(s)
	for _, x := range i {
		builder.WriteString(" ")
		builder.WriteString(fmt.Sprintf("%v", x))
	}
	return builder.String()
}

func (l LeveledLogger) Error(s string, i ...interface{}) {
	logrus.Error(l.format(s, i...))
}

func (l LeveledLogger) Info(s string, i ...interface{}) {
	logrus.Debug(l.format(s, i...))
}

func (l LeveledLogger) Debug(s string, i ...interface{}) {
	logrus.Debug(l.format(s, i...))
}

func (l LeveledLogger) Warn(s string, i ...interface{}) {
	logrus.Warn(l.format(s, i...))
}

var _ retryablehttp.LeveledLogger = LeveledLogger{}

// CensoringFormatter replaces secrets in log messages and string fields before
// handing the entry to the delegate.
type CensoringFormatter struct {
	delegate logrus.Formatter

	lock    sync.RWMutex
	secrets []string
}

func NewCensoringFormatter(delegate logrus.Formatter, secrets ...string) *CensoringFormatter {
	f := &CensoringFormatter{delegate: delegate}
	f.AddSecrets(secrets...)
	return f
}

// AddSecrets registers more values to censor, e.g. an access token obtained after startup.
func (f *CensoringFormatter) AddSecrets(secrets ...string) {
	f.lock.Lock()
	defer f.lock.Unlock()
	for _, secret := range secrets {
		if secret != "" {
			f.secrets = append(f.secrets, secret)
		}
	}
}

func (f *CensoringFormatter) censor(value string) string {
	f.lock.RLock()
	defer f.lock.RUnlock()
	for _, secret := range f.secrets {
		value = strings.ReplaceAll(value, secret, "xxx")
	}
	return value
}

func (f *CensoringFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	entry.Message = f.censor(entry.Message)
	for key, value := range entry.Data {
		switch v := value.(type) {
		case string:
			entry.Data[key] = f.censor(v)
		case error:
			entry.Data[key] = f.censor(v.Error())
		}
	}
	return f.delegate.Format(entry)
}

// Censor replaces secrets in data, e.g. in a rendered report.
func (f *CensoringFormatter) Censor(data *[]byte) {
	*data = []byte(f.censor(string(*data)))
}
