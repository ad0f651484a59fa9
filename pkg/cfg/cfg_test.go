package cfg

import (
	"flag"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type Server struct {
	Port    int           `yaml:"port"`
	Timeout time.Duration `yaml:"timeout"`
}

type TLS struct {
	Cert string `yaml:"cert"`
	Key  string `yaml:"key"`
}

// Data is a test configuration.
type Data struct {
	Verbose bool   `yaml:"verbose"`
	Server  Server `yaml:"server"`
	TLS     TLS    `yaml:"tls"`
}

func (d *Data) RegisterFlags(f *flag.FlagSet) {
	f.BoolVar(&d.Verbose, "verbose", false, "")
	f.IntVar(&d.Server.Port, "server.port", 80, "")
	f.DurationVar(&d.Server.Timeout, "server.timeout", 60*time.Second, "")
	f.StringVar(&d.TLS.Cert, "tls.cert", "CERT", "")
	f.StringVar(&d.TLS.Key, "tls.key", "KEY", "")
}

func (d *Data) Validate() error {
	if d.Server.Port <= 0 {
		return errors.New("port must be positive")
	}
	return nil
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestParse(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 2000
  timeout: 60h
tls:
  key: YAML
`)

	var c Data
	err := Parse(&c, flag.NewFlagSet("test", flag.ContinueOnError), []string{"-config.file=" + path, "-verbose", "-server.port=21"})
	require.NoError(t, err)

	require.Equal(t, Data{
		Verbose: true,
		Server: Server{
			Port:    21,
			Timeout: 60 * time.Hour,
		},
		TLS: TLS{
			Cert: "CERT",
			Key:  "YAML",
		},
	}, c)
}

func TestParse_Defaults(t *testing.T) {
	var c Data
	require.NoError(t, Parse(&c, flag.NewFlagSet("test", flag.ContinueOnError), nil))
	require.Equal(t, Data{
		Server: Server{Port: 80, Timeout: 60 * time.Second},
		TLS:    TLS{Cert: "CERT", Key: "KEY"},
	}, c)
}

func TestParse_ExpandEnv(t *testing.T) {
	t.Setenv("SEALDB_TEST_PORT", "8080")
	path := writeConfig(t, `
server:
  port: ${SEALDB_TEST_PORT}
tls:
  cert: ${SEALDB_TEST_CERT:-fallback}
`)

	for _, tc := range []struct {
		name   string
		expand bool
		err    bool
		want   Data
	}{
		{
			name:   "expanded",
			expand: true,
			want: Data{
				Server: Server{Port: 8080, Timeout: 60 * time.Second},
				TLS:    TLS{Cert: "fallback", Key: "KEY"},
			},
		},
		{name: "literal", expand: false, err: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			args := []string{"-config.file=" + path}
			if tc.expand {
				args = append(args, "-config.expand-env")
			}
			var c Data
			err := Parse(&c, flag.NewFlagSet("test", flag.ContinueOnError), args)
			if tc.err {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, c)
		})
	}
}

func TestParse_Errors(t *testing.T) {
	for _, tc := range []struct {
		name string
		yaml string
		args []string
		err  string
	}{
		{name: "unknown field", yaml: "server:\n  host: localhost\n", err: "field host not found"},
		{name: "invalid", yaml: "server:\n  port: 0\n", err: "port must be positive"},
		{name: "missing file", args: []string{"-config.file=/does/not/exist.yaml"}, err: "reading config file"},
		{name: "unknown flag", args: []string{"-nope"}, err: "flag provided but not defined"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			args := tc.args
			if tc.yaml != "" {
				args = append(args, "-config.file="+writeConfig(t, tc.yaml))
			}
			fs := flag.NewFlagSet("test", flag.ContinueOnError)
			fs.SetOutput(io.Discard)
			var c Data
			require.ErrorContains(t, Parse(&c, fs, args), tc.err)
		})
	}
}
