package config

import (
	"context"
	"os"
	"os/signal"
	"reflect"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const reloadDebounce = 500 * time.Millisecond

// ReloadFunc applies a freshly loaded configuration
type ReloadFunc func(*Config) error

// Watcher reloads the configuration file on change or SIGHUP
type Watcher struct {
	configPath string
	logger     zerolog.Logger
	fs         *fsnotify.Watcher
	apply      ReloadFunc
	current    *Config
}

// NewWatcher creates a config file watcher. current is the configuration the
// process started with; its upstream settings are pinned across reloads.
func NewWatcher(configPath string, current *Config, apply ReloadFunc, logger zerolog.Logger) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if err := fsWatcher.Add(configPath); err != nil {
		fsWatcher.Close()
		return nil, err
	}

	return &Watcher{
		configPath: configPath,
		logger:     logger.With().Str("component", "config").Logger(),
		fs:         fsWatcher,
		apply:      apply,
		current:    current,
	}, nil
}

// Run blocks until ctx is cancelled, reloading on file writes and SIGHUP
func (w *Watcher) Run(ctx context.Context) {
	defer w.fs.Close()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	w.logger.Info().Str("path", w.configPath).Msg("Config watcher started")

	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("Config watcher stopped")
			return

		case sig := <-sigChan:
			w.logger.Info().Str("signal", sig.String()).Msg("Received signal, reloading configuration")
			w.Reload()

		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			w.logger.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("Config file changed")

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(reloadDebounce, w.Reload)

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Config watcher error")
		}
	}
}

// Reload loads the file again and hands it to the apply function. The
// credential and upstream settings of the running process are kept.
func (w *Watcher) Reload() {
	newCfg, err := Load(w.configPath)
	if err != nil {
		w.logger.Error().Err(err).Msg("Failed to load new configuration - keeping current config")
		return
	}

	if newCfg.Upstream != w.current.Upstream || !reflect.DeepEqual(newCfg.Server, w.current.Server) {
		w.logger.Warn().Msg("Upstream and server settings require a restart - ignoring those changes")
	}
	newCfg.Upstream = w.current.Upstream
	newCfg.Server = w.current.Server

	if err := w.apply(newCfg); err != nil {
		w.logger.Error().Err(err).Msg("Failed to apply new configuration - keeping current config")
		return
	}

	w.logger.Info().Msg("Configuration reloaded successfully")
}
