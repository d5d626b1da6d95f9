// Package cli implements the adaptive-memory CLI commands.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rcliao/adaptive-memory/internal/config"
	"github.com/rcliao/adaptive-memory/internal/engine"
	"github.com/rcliao/adaptive-memory/internal/logger"
)

var (
	dbPath     string
	configPath string
	driverFlag string
	userFlag   string
	formatFlag string
	levelFlag  string
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "adaptive-memory",
	Short: "Adaptive memory and preference learning for assistants",
	Long: "Stores episodic, semantic and procedural memories per user, learns preferences from feedback " +
		"and interactions, and protects important knowledge while it learns.",
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "Database path (default: $ADAPTIVE_MEMORY_DB or ~/.adaptive-memory/memory.db)")
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (yaml or json)")
	RootCmd.PersistentFlags().StringVar(&driverFlag, "driver", "", "Storage driver: sqlite or badger")
	RootCmd.PersistentFlags().StringVarP(&userFlag, "user", "u", "default", "User ID")
	RootCmd.PersistentFlags().StringVarP(&formatFlag, "format", "f", "json", "Output format: json or yaml")
	RootCmd.PersistentFlags().StringVar(&levelFlag, "log-level", "", "Log level: debug, info, warn, error")
}

// overrides turns the persistent flags into config keys.
func overrides() map[string]any {
	o := map[string]any{}
	if dbPath != "" {
		o["storage.path"] = dbPath
	}
	if driverFlag != "" {
		o["storage.driver"] = driverFlag
	}
	if levelFlag != "" {
		o["log.level"] = levelFlag
	}
	if addrFlag != "" {
		o["server.addr"] = addrFlag
	}
	return o
}

func loadConfig() (*config.Config, error) {
	return config.Load(configPath, overrides())
}

func newLogger(cfg *config.Config) logger.Logger {
	return logger.New(&logger.Config{
		Level:  logger.ParseLevel(cfg.Log.Level),
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
}

// session is an open engine plus the logger it writes to.
type session struct {
	*engine.Engine
	log logger.Logger
}

func (s *session) Close() {
	s.Engine.Close()
	s.log.Close()
}

func openEngine() (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	log := newLogger(cfg)
	e, err := engine.Open(cfg, log, nil)
	if err != nil {
		log.Close()
		return nil, err
	}
	return &session{Engine: e, log: log}, nil
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}

// output prints v as indented JSON, or as YAML with the same field names.
func output(v any) {
	b, err := render(v, formatFlag)
	if err != nil {
		exitErr("encode output", err)
	}
	fmt.Println(strings.TrimRight(string(b), "\n"))
}

func render(v any, format string) ([]byte, error) {
	switch format {
	case "json", "":
		return json.MarshalIndent(v, "", "  ")
	case "yaml":
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		var generic any
		if err := json.Unmarshal(raw, &generic); err != nil {
			return nil, err
		}
		return yaml.Marshal(generic)
	}
	return nil, fmt.Errorf("unknown format %q", format)
}

// readContent joins positional args, falling back to piped stdin.
func readContent(args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	stat, err := os.Stdin.Stat()
	if err != nil || stat.Mode()&os.ModeCharDevice != 0 {
		return "", nil
	}
	b, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
