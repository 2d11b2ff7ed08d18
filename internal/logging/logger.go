package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	Rates    = zap.NewNop().Sugar()
	LNURL    = zap.NewNop().Sugar()
	Verify   = zap.NewNop().Sugar()
	Store    = zap.NewNop().Sugar()
	Export   = zap.NewNop().Sugar()
	HTTP     = zap.NewNop().Sugar()
	Internal = zap.NewNop().Sugar()
)

// Init builds the root logger and names one child per subsystem. Until it is
// called every logger discards its output, which keeps tests quiet.
func Init(dev bool) error {
	config := zap.NewProductionConfig()
	if dev {
		config = zap.NewDevelopmentConfig()
	}
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	root, err := config.Build()
	if err != nil {
		return err
	}
	base := root.Sugar()

	Rates = base.Named("rates")
	LNURL = base.Named("lnurl")
	Verify = base.Named("verify")
	Store = base.Named("store")
	Export = base.Named("export")
	HTTP = base.Named("http")
	Internal = base.Named("internal")
	return nil
}

// Sync flushes buffered entries.
func Sync() {
	_ = Internal.Sync()
}
