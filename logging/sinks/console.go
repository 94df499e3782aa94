package sinks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"

	"towerdefense/server/logging"
)

// Console renders events as logrus text lines.
type Console struct {
	logger *logrus.Logger
}

func NewConsole(w io.Writer, cfg logging.ConsoleConfig) *Console {
	logger := logrus.New()
	logger.SetOutput(w)
	logger.SetLevel(logrus.DebugLevel)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
		ForceColors:   cfg.UseColor,
		DisableColors: !cfg.UseColor,
	})
	return &Console{logger: logger}
}

func (s *Console) Write(event logging.Event) error {
	if s.logger == nil {
		return nil
	}
	fields := logrus.Fields{
		"tick":  event.Tick,
		"actor": formatEntity(event.Actor),
	}
	if event.Category != "" {
		fields["category"] = event.Category
	}
	if event.RoomID != "" {
		fields["room"] = event.RoomID
	}
	if event.ActionID != "" {
		fields["action"] = event.ActionID
	}
	if len(event.Targets) > 0 {
		fields["targets"] = formatTargets(event.Targets)
	}
	if event.Payload != nil {
		fields["payload"] = formatPayload(event.Payload)
	}
	for k, v := range event.Extra {
		if _, exists := fields[k]; !exists {
			fields[k] = v
		}
	}
	s.logger.WithTime(event.Time).WithFields(fields).Log(level(event.Severity), string(event.Type))
	return nil
}

func (s *Console) Close(context.Context) error {
	return nil
}

func level(sev logging.Severity) logrus.Level {
	switch sev {
	case logging.SeverityDebug:
		return logrus.DebugLevel
	case logging.SeverityWarn:
		return logrus.WarnLevel
	case logging.SeverityError:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

func formatEntity(ref logging.EntityRef) string {
	if ref.ID == "" {
		return string(ref.Kind)
	}
	if ref.Kind == "" {
		return ref.ID
	}
	return fmt.Sprintf("%s:%s", ref.Kind, ref.ID)
}

func formatTargets(targets []logging.EntityRef) string {
	parts := make([]string, 0, len(targets))
	for _, target := range targets {
		parts = append(parts, formatEntity(target))
	}
	return strings.Join(parts, ",")
}

func formatPayload(payload any) string {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Sprintf("%v", payload)
	}
	return string(data)
}
