package logger

import (
	"fmt"
	"math/rand"
	"os"
	"strings"

	"github.com/doublewordai/arbiter/pkg/configs"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var applicationName = "arbiter"

func InitLogger(configs *configs.AppConfigs) {
	logLevel := strings.ToUpper(configs.Configs.ApplicationLogLevel)
	applicationName = configs.Configs.ApplicationName
	switch logLevel {
	case "DEBUG":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "INFO":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "WARN":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "ERROR":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case "FATAL":
		zerolog.SetGlobalLevel(zerolog.FatalLevel)
	case "PANIC":
		zerolog.SetGlobalLevel(zerolog.PanicLevel)
	case "DISABLED":
		zerolog.SetGlobalLevel(zerolog.Disabled)
	default:
		Panic(fmt.Sprintf("Incorrect log level %s", logLevel), nil)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	Info("Logger initialized!")
}

func Debug(message string) {
	log.Debug().Str("service", applicationName).Msg(message)
}

func Info(message string) {
	log.Info().Str("service", applicationName).Msg(message)
}

func Warn(message string) {
	log.Warn().Str("service", applicationName).Msg(message)
}

func Error(message string, err error) {
	log.Error().Str("service", applicationName).AnErr("error", err).Msg(message)
}

// PercentError logs at most loggingPercent% of calls, for errors that would
// otherwise flood the log on a hot path.
func PercentError(message string, err error, loggingPercent int) {
	if loggingPercent == 0 {
		loggingPercent = 10
	}
	randomNumber := rand.Intn(100) + 1
	if randomNumber <= loggingPercent {
		Error(message, err)
	}
}

func Panic(message string, err error) {
	log.Panic().Str("service", applicationName).AnErr("error", err).Msg(message)
}
