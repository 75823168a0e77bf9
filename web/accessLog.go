package web

import (
	"time"

	"github.com/charmbracelet/log"

	"github.com/orthanc/postcleaner/cleaner"
)

func logCleanAttempt(logger *log.Logger, attempt string, actor cleaner.Actor, input string) func(cleaner.Outcome) time.Duration {
	logger.Info("[CLEAN]", "attempt", attempt, "actor", actor.DID, "input", input)
	start := time.Now()
	return func(outcome cleaner.Outcome) time.Duration {
		elapsed := time.Since(start)
		level := log.InfoLevel
		if !outcome.OK() {
			level = log.WarnLevel
		}
		logger.Log(level, "[CLEAN-END]", "attempt", attempt, "actor", actor.DID, "outcome", outcome.String(), "took", elapsed)
		return elapsed
	}
}
