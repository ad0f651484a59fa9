// Package cfg loads configuration from flag defaults, an optional YAML file
// and command line flags, in that order of precedence.
package cfg

import (
	"bytes"
	"flag"
	"io"
	"os"

	"github.com/drone/envsubst"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Registerer is a configuration that registers its flags.
type Registerer interface {
	RegisterFlags(f *flag.FlagSet)
}

// Validator is a configuration that can check itself once loaded.
type Validator interface {
	Validate() error
}

// Source is a generic configuration source. This function may do whatever is
// required to obtain the configuration. It is passed a pointer to the
// destination, which will be something compatible to `yaml.Unmarshal`. The
// obtained configuration may be written to this object, it may also contain
// data from previous sources.
type Source func(interface{}) error

// Unmarshal merges the values of the various configuration sources and sets them on
// `dst`. The object must be compatible with `yaml.Unmarshal`.
func Unmarshal(dst interface{}, sources ...Source) error {
	if len(sources) == 0 {
		panic("No sources supplied to cfg.Unmarshal(). This is most likely a programming issue and should never happen. Check the code!")
	}
	for _, source := range sources {
		if err := source(dst); err != nil {
			return errors.Wrap(err, "sourcing")
		}
	}
	return nil
}

// YAML decodes data into the destination. Environment references such as
// ${VAR} or ${VAR:-default} are expanded first when expandEnv is set.
// Unknown fields are an error.
func YAML(data []byte, expandEnv bool) Source {
	return func(dst interface{}) error {
		if expandEnv {
			s, err := envsubst.EvalEnv(string(data))
			if err != nil {
				return errors.Wrap(err, "expanding environment variables")
			}
			data = []byte(s)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
			return errors.Wrap(err, "decoding yaml")
		}
		return nil
	}
}

// YAMLFile decodes the file at path with [YAML]. An empty path is a no-op.
func YAMLFile(path string, expandEnv bool) Source {
	return func(dst interface{}) error {
		if path == "" {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return errors.Wrap(err, "reading config file")
		}
		return YAML(data, expandEnv)(dst)
	}
}

// Flags re-applies the flags of fs that were set on the command line, so
// that they take precedence over earlier sources.
func Flags(fs *flag.FlagSet) Source {
	set := map[string]string{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = f.Value.String() })

	return func(interface{}) error {
		for name, value := range set {
			if err := fs.Set(name, value); err != nil {
				return errors.Wrapf(err, "flag -%s", name)
			}
		}
		return nil
	}
}

// Parse loads dst: its flag defaults first, then the file named by
// -config.file, then the flags given in args. dst is validated when it
// implements [Validator].
func Parse(dst Registerer, fs *flag.FlagSet, args []string) error {
	var (
		configFile string
		expandEnv  bool
	)
	fs.StringVar(&configFile, "config.file", "", "YAML file to load.")
	fs.BoolVar(&expandEnv, "config.expand-env", false, "Expand ${VAR} references in the config file with environment variables.")
	dst.RegisterFlags(fs)

	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := Unmarshal(dst, YAMLFile(configFile, expandEnv), Flags(fs)); err != nil {
		return err
	}
	if v, ok := dst.(Validator); ok {
		if err := v.Validate(); err != nil {
			return errors.Wrap(err, "invalid configuration")
		}
	}
	return nil
}
