package config

import (
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Watch re-reads the config file on every change and applies it to rt.
// Invalid edits are logged and ignored. Static settings such as ports or
// the store path still need a restart.
func (l *Loader) Watch(rt *Runtime) {
	if l.v.ConfigFileUsed() == "" {
		log.Debug().Msg("No config file to watch")
		return
	}

	l.v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := l.decode()
		if err != nil {
			log.Warn().Err(err).Str("file", e.Name).Msg("Ignoring invalid configuration change")
			return
		}
		if err := rt.Apply(cfg); err != nil {
			log.Warn().Err(err).Str("file", e.Name).Msg("Ignoring invalid configuration change")
		}
	})
	l.v.WatchConfig()

	log.Info().Str("file", l.v.ConfigFileUsed()).Msg("Watching configuration for changes")
}
