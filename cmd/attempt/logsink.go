package main

import (
	"io"
	"log"

	"github.com/MaxBondABE/attempt/internal/attempt/duration"
	"github.com/MaxBondABE/attempt/internal/attempt/engine"
	"github.com/MaxBondABE/attempt/internal/attempt/policy"
)

type level int

const (
	levelOff level = iota
	levelError
	levelWarn
	levelInfo
	levelDebug
	levelTrace
)

// levelFor maps net verbosity (-v count minus -q count) to the most verbose
// level that is printed. There is no info-only setting; info shows from -v.
func levelFor(net int) level {
	switch {
	case net <= -2:
		return levelOff
	case net == -1:
		return levelError
	case net == 0:
		return levelWarn
	case net == 1:
		return levelDebug
	default:
		return levelTrace
	}
}

// logSink renders engine events as plain lines on stderr.
type logSink struct {
	max    level
	logger *log.Logger
}

func newLogSink(w io.Writer, netVerbosity int) *logSink {
	return &logSink{max: levelFor(netVerbosity), logger: log.New(w, "", 0)}
}

func (l *logSink) logf(lv level, format string, args ...any) {
	if lv == levelOff || lv > l.max {
		return
	}
	l.logger.Printf(format, args...)
}

func (l *logSink) Errorf(format string, args ...any) { l.logf(levelError, format, args...) }
func (l *logSink) Warnf(format string, args ...any)  { l.logf(levelWarn, format, args...) }

func (l *logSink) Emit(ev engine.Event) {
	switch ev.Kind {
	case engine.EventRunStarted:
		l.logf(levelTrace, "run %s: budget %s", ev.RunID, ev.Budget)
	case engine.EventStaggerScheduled:
		l.logf(levelInfo, "Staggering by %.2f seconds", ev.Wait.Seconds())
	case engine.EventAttemptStarted:
		l.logf(levelTrace, "Starting attempt %d...", ev.Attempt)
	case engine.EventOutcomeClassified:
		if ev.Outcome != nil {
			l.logf(levelTrace, "Attempt %d: %s after %dms.", ev.Attempt, ev.Outcome, ev.DurationMS)
		}
	case engine.EventDecisionMade:
		verb := "Retry"
		if ev.Decision == policy.DecisionStop {
			verb = "Stop"
		}
		l.logf(levelDebug, "%s: %s.", verb, ev.Detail)
	case engine.EventWaitScheduled:
		l.logf(levelDebug, "Command has failed, retrying in %s...", duration.Format(ev.Wait))
	case engine.EventRunFinished:
		switch ev.Reason {
		case engine.ReasonSuccess:
			l.logf(levelDebug, "Terminated: Success.")
		case engine.ReasonStopped:
			l.logf(levelDebug, "Terminated: Command has failed, but cannot be retried.")
		case engine.ReasonRetriesExhausted:
			l.logf(levelDebug, "Terminated: Retries exhausted.")
		}
	}
}
