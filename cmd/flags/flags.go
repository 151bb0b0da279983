package flags

import (
	"log/slog"

	"github.com/google/uuid"
	"github.com/ruteri/principality/common"
	"github.com/ruteri/principality/config"
	"github.com/urfave/cli/v2"
)

func SetupLogger(cCtx *cli.Context) (log *slog.Logger) {
	logJSON := cCtx.Bool(LogJsonFlag.Name)
	logDebug := cCtx.Bool(LogDebugFlag.Name)
	logUID := cCtx.Bool(LogUidFlag.Name)
	logService := cCtx.String("log-service")

	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   logDebug,
		JSON:    logJSON,
		Service: logService,
		Version: common.Version,
	})

	if logUID {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

// LoadConfig reads the configuration file and applies the database flags on top.
func LoadConfig(cCtx *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(cCtx.String(ConfigFileFlag.Name))
	if err != nil {
		return nil, err
	}
	if cCtx.IsSet(BackendFlag.Name) {
		cfg.Database.Type = cCtx.String(BackendFlag.Name)
	}
	if cCtx.IsSet(DirectoryFlag.Name) {
		cfg.Database.Directory = cCtx.String(DirectoryFlag.Name)
	}
	if cCtx.IsSet(RemoteTimeoutFlag.Name) {
		cfg.Database.RemoteTimeout = cCtx.Duration(RemoteTimeoutFlag.Name)
	}
	return cfg, nil
}

var ConfigFileFlag = &cli.StringFlag{
	Name:    "config",
	Value:   "principality.toml",
	Usage:   "configuration file; missing files are ignored",
	EnvVars: []string{"PRINCIPALITY_CONFIG"},
}

var BackendFlag = &cli.StringFlag{
	Name:  "backend",
	Usage: "storage backend (local, temp, vault, s3, ipfs); overrides database.type",
}

var DirectoryFlag = &cli.StringFlag{
	Name:  "directory",
	Usage: "local store root directory; overrides database.directory",
}

var RemoteTimeoutFlag = &cli.DurationFlag{
	Name:  "remote-timeout",
	Usage: "timeout for each remote store call; overrides database.remote_timeout",
}

var NamespaceFlag = &cli.StringFlag{
	Name:     "namespace",
	Aliases:  []string{"n"},
	Required: true,
	Usage:    "database name the store is bound to",
}

var LogJsonFlag = &cli.BoolFlag{
	Name:  "log-json",
	Value: false,
	Usage: "log in JSON format",
}
var LogDebugFlag = &cli.BoolFlag{
	Name:  "log-debug",
	Value: false,
	Usage: "log debug messages",
}
var LogUidFlag = &cli.BoolFlag{
	Name:  "log-uid",
	Value: false,
	Usage: "generate a uuid and add to all log messages",
}

var LogServiceFlagFn = func(service string) *cli.StringFlag {
	return &cli.StringFlag{
		Name:  "log-service",
		Value: service,
		Usage: "add 'service' tag to logs",
	}
}

var CommonFlags = []cli.Flag{
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
	ConfigFileFlag,
	BackendFlag,
	DirectoryFlag,
	RemoteTimeoutFlag,
	NamespaceFlag,
}
