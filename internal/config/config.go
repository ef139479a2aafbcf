package config

import (
	"github.com/calebmoran/longbox-backend/internal/dice"
	"github.com/calebmoran/longbox-backend/internal/logger"
	"github.com/calebmoran/longbox-backend/internal/utils"
)

// Config carries the queue tunables. Values outside their documented ranges
// are clamped at load time so the rest of the code never re-validates them.
type Config struct {
	SessionGapHours int     // inactivity gap that closes a session, 1..168
	StartDie        int     // die a fresh session starts on, one of the ladder dice
	RatingMin       float64 // 0.5
	RatingMax       float64 // 5.0
	RatingStep      float64 // 0.5
	RatingThreshold float64 // at or above steps the die down, below steps up
}

func Load(log *logger.Logger) *Config {
	cfg := &Config{
		SessionGapHours: utils.GetEnvAsInt("SESSION_GAP_HOURS", 6, log),
		StartDie:        utils.GetEnvAsInt("START_DIE", 6, log),
		RatingMin:       utils.GetEnvAsFloat("RATING_MIN", 0.5, log),
		RatingMax:       utils.GetEnvAsFloat("RATING_MAX", 5.0, log),
		RatingStep:      utils.GetEnvAsFloat("RATING_STEP", 0.5, log),
		RatingThreshold: utils.GetEnvAsFloat("RATING_THRESHOLD", 4.0, log),
	}
	if cfg.SessionGapHours < 1 {
		cfg.SessionGapHours = 1
	}
	if cfg.SessionGapHours > 168 {
		cfg.SessionGapHours = 168
	}
	if !dice.Valid(cfg.StartDie) {
		if log != nil {
			log.Warn("START_DIE is not a ladder die, using 6", "provided", cfg.StartDie)
		}
		cfg.StartDie = 6
	}
	if cfg.RatingMin <= 0 {
		cfg.RatingMin = 0.5
	}
	if cfg.RatingMax < cfg.RatingMin {
		cfg.RatingMax = 5.0
	}
	if cfg.RatingStep <= 0 {
		cfg.RatingStep = 0.5
	}
	if cfg.RatingThreshold < cfg.RatingMin || cfg.RatingThreshold > cfg.RatingMax {
		cfg.RatingThreshold = 4.0
	}
	return cfg
}

// Default returns the stock tunables; used by tests.
func Default() *Config {
	return &Config{
		SessionGapHours: 6,
		StartDie:        6,
		RatingMin:       0.5,
		RatingMax:       5.0,
		RatingStep:      0.5,
		RatingThreshold: 4.0,
	}
}
