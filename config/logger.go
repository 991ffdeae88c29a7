package config

import "go.uber.org/zap"

// NewLogger builds the process logger. "debug" gives the human readable
// development encoder, anything else the JSON production one.
func NewLogger(level string) (*zap.Logger, error) {
	if level == "debug" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
