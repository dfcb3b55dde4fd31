package utils

import "go.uber.org/zap"

// NewLogger returns the soilsense root logger. When debug is true it uses the
// development config (console encoding, debug level); otherwise production
// JSON at info level.
func NewLogger(debug bool, opts ...zap.Option) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if debug {
		logger, err = zap.NewDevelopment(opts...)
	} else {
		logger, err = zap.NewProduction(opts...)
	}
	if err != nil {
		return nil, err
	}
	return logger.Named("soilsense"), nil
}
