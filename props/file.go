package props

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const (
	fileType       = "ini"
	defaultSection = "default."
)

type loadOptions struct {
	envPrefix string
}

// LoadOption configures Load.
type LoadOption func(*loadOptions)

// WithEnvPrefix lets environment variables override loaded properties. A
// property "mail.host" is overridden by {PREFIX}_MAIL_HOST.
func WithEnvPrefix(prefix string) LoadOption {
	return func(o *loadOptions) {
		o.envPrefix = prefix
	}
}

// Load replaces all properties with the contents of an ini file. A key "k"
// in section "[group]" becomes property "group.k", keys outside of any
// section are loaded as top-level properties.
func (s *Store) Load(path string, options ...LoadOption) error {
	opts := &loadOptions{}
	for _, option := range options {
		option(opts)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType(fileType)

	if opts.envPrefix != "" {
		v.SetEnvPrefix(opts.envPrefix)
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
		v.AutomaticEnv()
	}

	if err := v.ReadInConfig(); err != nil {
		return errors.Wrapf(err, "loading properties %q", path)
	}

	entries := make(map[string]string)

	for _, key := range v.AllKeys() {
		name := strings.TrimPrefix(key, defaultSection)
		if !ValidKey(name) {
			return errors.Wrapf(ErrInvalidKey, "%q in %q", name, path)
		}

		entries[normalize(name)] = v.GetString(key)
	}

	s.replace(entries)

	return nil
}

// Save writes all properties to an ini file, creating parent directories when
// necessary.
func (s *Store) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "creating directory for %q", path)
	}

	v := viper.New()
	v.SetConfigType(fileType)

	for k, val := range s.All() {
		v.Set(k, val)
	}

	if err := v.WriteConfigAs(path); err != nil {
		return errors.Wrapf(err, "saving properties %q", path)
	}

	return nil
}

// Exists reports whether a properties file exists at path.
func Exists(path string) bool {
	info, err := os.Stat(path)

	return err == nil && !info.IsDir()
}
