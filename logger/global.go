package logger

import (
	"regexp"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type globalFactory struct {
	sync.Mutex
	config              GlobalConfig
	loggers             map[string]*ContextLogger
	context             Context
	consoleTimeFormat   string
	callerSkipFrames    int // how many frames to skip to get real caller
	packageNameResolver *PackageNameResolver
	nonAlphaNumeric     *regexp.Regexp
	outputInitialized   bool
}

// Singleton for managing application wide logging.
var globalFactoryImpl = &globalFactory{
	loggers:             make(map[string]*ContextLogger),
	context:             make(Context),
	consoleTimeFormat:   "15:04:05.000000",
	callerSkipFrames:    4,
	packageNameResolver: &PackageNameResolver{BasePackage: "matrix-magiq/qvalidator"},
	nonAlphaNumeric:     regexp.MustCompile(`[^a-zA-Z0-9]`),
}

// CreateForPackage creates logger named after the caller package.
func CreateForPackage() Logger {
	return Create(globalFactoryImpl.packageNameResolver.PackageName())
}

// Create creates custom named logger, loggers with the same (normalized) name are shared.
func Create(name string) Logger {
	return globalFactoryImpl.create(name)
}

// KeyNode is the context key of the address of the node the process runs.
const KeyNode = "node"

// SetContext adds key-value pair to the output of all loggers.
func SetContext(key string, value interface{}) {
	globalFactoryImpl.modifyContext(func(c Context) { c[key] = value })
}

// ClearContext removes the key from the output of all loggers.
func ClearContext(key string) {
	globalFactoryImpl.modifyContext(func(c Context) { delete(c, key) })
}

// UpdateGlobalConfig updates global config and all loggers accordingly.
func UpdateGlobalConfig(config GlobalConfig) {
	globalFactoryImpl.Lock()
	defer globalFactoryImpl.Unlock()
	globalFactoryImpl.updateFromConfig(config)
}

// UpdateGlobalConfigFromFile reads the file and parses it as YAML. Global logger configuration is updated accordingly.
// In case of an error, logger won't be updated.
func UpdateGlobalConfigFromFile(fileName string) error {
	conf, err := loadGlobalConfigFromFile(fileName)
	if err != nil {
		return err
	}
	UpdateGlobalConfig(conf)
	return nil
}

// SetLevel changes the default level, and the level of all loggers without package level override.
func SetLevel(level LogLevel) {
	globalFactoryImpl.Lock()
	defer globalFactoryImpl.Unlock()
	globalFactoryImpl.config.DefaultLevel = level
	globalFactoryImpl.updateAllLoggers()
}

func initializeGlobalLogger() {
	globalFactoryImpl.Lock()
	defer globalFactoryImpl.Unlock()
	if !globalFactoryImpl.outputInitialized {
		globalFactoryImpl.updateFromConfig(developerConfiguration())
	}
}

// modifyContext applies fn to a copy of the context so loggers built from the
// previous context are not mutated.
func (gf *globalFactory) modifyContext(fn func(c Context)) {
	gf.Lock()
	defer gf.Unlock()
	c := make(Context, len(gf.context)+1)
	for k, v := range gf.context {
		c[k] = v
	}
	fn(c)
	gf.context = c
	gf.updateAllLoggers()
}

func (gf *globalFactory) updateFromConfig(config GlobalConfig) {
	newWriter := config.Writer != nil && config.Writer != gf.config.Writer
	updateOutput := !gf.outputInitialized || newWriter ||
		gf.config.ConsoleFormat != config.ConsoleFormat ||
		gf.config.ShowCaller != config.ShowCaller

	if newWriter {
		gf.config.Writer = config.Writer
	}
	gf.config.DefaultLevel = config.DefaultLevel
	gf.config.PackageLevels = config.PackageLevels
	gf.config.ConsoleFormat = config.ConsoleFormat
	gf.config.ShowCaller = config.ShowCaller
	gf.config.ShowGoroutineID = config.ShowGoroutineID

	if updateOutput {
		gf.updateOutput()
	}
	if config.TimeLocation != "" {
		gf.updateTimeLocation(config.TimeLocation)
	}
	gf.updateAllLoggers()
}

func (gf *globalFactory) updateTimeLocation(location string) {
	loc, err := time.LoadLocation(location)
	if err != nil {
		loc = time.Local
	}
	zerolog.TimestampFunc = func() time.Time { return time.Now().In(loc) }
}

func (gf *globalFactory) updateOutput() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = newRootLogger(gf.config, gf.consoleTimeFormat, gf.callerSkipFrames)
	gf.outputInitialized = true
}

// newRootLogger builds the logger all the package loggers derive from.
func newRootLogger(config GlobalConfig, consoleTimeFormat string, callerSkipFrames int) zerolog.Logger {
	out := config.Writer
	if config.ConsoleFormat {
		out = zerolog.ConsoleWriter{
			Out:          config.Writer,
			TimeFormat:   consoleTimeFormat,
			FormatCaller: consoleFormatCallerLastTwoDirs,
		}
	}
	ctx := zerolog.New(out).With().Timestamp()
	if config.ShowCaller {
		ctx = ctx.CallerWithSkipFrameCount(callerSkipFrames)
	}
	return ctx.Logger()
}

func (gf *globalFactory) updateAllLoggers() {
	for name, logger := range gf.loggers {
		logger.update(gf.loggerLevel(name), gf.context, gf.config.ShowGoroutineID)
	}
}

func (gf *globalFactory) create(name string) Logger {
	gf.Lock()
	defer gf.Unlock()

	normName := gf.nonAlphaNumeric.ReplaceAllString(name, "_")
	if logger, ok := gf.loggers[normName]; ok {
		return logger
	}
	// configuration can specify log levels by logger name, each package creates one named after the package
	cl := newContextLogger(gf.loggerLevel(normName), gf.context, gf.config.ShowGoroutineID)
	gf.loggers[normName] = cl
	return cl
}

func (gf *globalFactory) loggerLevel(loggerName string) LogLevel {
	if level, ok := gf.config.PackageLevels[loggerName]; ok {
		return level
	}
	return gf.config.DefaultLevel
}
