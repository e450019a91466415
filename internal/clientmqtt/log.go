package clientmqtt

import (
	"fmt"
	"strings"

	"artnet2ha/internal/logger"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

// pahoLogger forwards paho's internal logging into logrus.
type pahoLogger struct {
	log   *logger.Log
	level logrus.Level
}

func (p pahoLogger) Println(v ...interface{}) {
	p.log.Log(p.level, strings.TrimSpace(fmt.Sprintln(v...)))
}

func (p pahoLogger) Printf(format string, v ...interface{}) {
	p.log.Logf(p.level, strings.TrimSpace(format), v...)
}

// redirectPahoLogs installs the adapters. paho's DEBUG output is only enabled at trace level.
func redirectPahoLogs(log logger.Logger) {
	l := log.With(logger.Fields{"module": "paho"})
	mqtt.ERROR = pahoLogger{log: l, level: logrus.ErrorLevel}
	mqtt.CRITICAL = pahoLogger{log: l, level: logrus.ErrorLevel}
	mqtt.WARN = pahoLogger{log: l, level: logrus.WarnLevel}
	if log.GetLevel() == logrus.TraceLevel.String() {
		mqtt.DEBUG = pahoLogger{log: l, level: logrus.TraceLevel}
	}
}
