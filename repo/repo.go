package repo

import (
	"bytes"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const (
	rootPathEnvVar = "ALLOCATOR_PATH"

	envPrefix = "ALLOCATOR"

	cfgFileName = "allocator.toml"

	defaultRepoRoot = "~/.allocator"

	LogsDirName = "logs"

	DefaultMechanismAddr = "0x0000000000000000000000000000000000001001"
	DefaultAssetAddr     = "0x0000000000000000000000000000000000001002"
	DefaultOwnerAddr     = "0x0000000000000000000000000000000000001003"
)

// Repo is an allocator home directory: the config file, the mechanism
// store and the rotated logs.
type Repo struct {
	Config *Config
}

// Exist reports whether something is present at path.
func Exist(path string) bool {
	fi, err := os.Lstat(path)
	return fi != nil || (err != nil && !os.IsNotExist(err))
}

// Load opens the repo at repoRoot, falling back to ALLOCATOR_PATH and then
// ~/.allocator. A missing config file is created from the defaults.
func Load(repoRoot string) (*Repo, error) {
	rootPath, err := LoadRepoRootFromEnv(repoRoot)
	if err != nil {
		return nil, err
	}
	r := &Repo{Config: DefaultConfig(rootPath)}

	if !Exist(r.ConfigPath()) {
		if err := os.MkdirAll(rootPath, 0755); err != nil {
			return nil, errors.Wrapf(err, "create repo %s", rootPath)
		}
		if err := r.ReloadWithEnv(); err != nil {
			return nil, errors.Wrap(err, "failed to build default config")
		}
		return r, nil
	}

	if err := CheckWritable(rootPath); err != nil {
		return nil, err
	}
	if err := readConfigFromFile(r.ConfigPath(), r.Config); err != nil {
		return nil, errors.Wrapf(err, "read %s", r.ConfigPath())
	}
	return r, nil
}

// ConfigPath is the location of the config file inside the repo.
func (r *Repo) ConfigPath() string {
	return path.Join(r.Config.RepoRoot, cfgFileName)
}

// LogsPath is the directory the rotated log files are written to.
func (r *Repo) LogsPath() string {
	return filepath.Join(r.Config.RepoRoot, LogsDirName)
}

// ReloadWithEnv rewrites the config file with the values overridden by
// ALLOCATOR_ prefixed environment variables.
func (r *Repo) ReloadWithEnv() error {
	if err := writeConfig(r.ConfigPath(), r.Config); err != nil {
		return err
	}
	if err := readConfigFromFile(r.ConfigPath(), r.Config); err != nil {
		return errors.Wrap(err, "failed to read cfg from environment")
	}
	return writeConfig(r.ConfigPath(), r.Config)
}

// Flush writes the in-memory config to disk as is.
func (r *Repo) Flush() error {
	return errors.Wrap(writeConfig(r.ConfigPath(), r.Config), "failed to write config")
}

func writeConfig(cfgPath string, config any) error {
	raw, err := MarshalConfig(config)
	if err != nil {
		return err
	}
	return os.WriteFile(cfgPath, []byte(raw), 0644)
}

func MarshalConfig(config any) (string, error) {
	buf := bytes.NewBuffer([]byte{})
	e := toml.NewEncoder(buf)
	e.SetIndentTables(true)
	e.SetArraysMultiline(true)
	err := e.Encode(config)
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

func LoadRepoRootFromEnv(repoRoot string) (string, error) {
	if repoRoot != "" {
		return repoRoot, nil
	}
	repoRoot = os.Getenv(rootPathEnvVar)
	var err error
	if len(repoRoot) == 0 {
		repoRoot, err = homedir.Expand(defaultRepoRoot)
	}
	return repoRoot, err
}

func readConfigFromFile(cfgFilePath string, config any) error {
	vp := viper.New()
	vp.SetConfigFile(cfgFilePath)
	vp.SetConfigType("toml")
	return readConfig(vp, config)
}

func readConfig(vp *viper.Viper, config any) error {
	vp.AutomaticEnv()
	vp.SetEnvPrefix(envPrefix)
	replacer := strings.NewReplacer(".", "_")
	vp.SetEnvKeyReplacer(replacer)

	err := vp.ReadInConfig()
	if err != nil {
		return err
	}

	if err := vp.Unmarshal(config); err != nil {
		return err
	}

	return nil
}

// CheckWritable makes sure the store and the logs can be written under dir,
// creating it when missing.
func CheckWritable(dir string) error {
	_, err := os.Stat(dir)
	switch {
	case os.IsNotExist(err):
		return os.Mkdir(dir, 0775)
	case os.IsPermission(err):
		return errors.Errorf("cannot write to %s, incorrect permissions", dir)
	case err != nil:
		return err
	}

	tmp, err := os.CreateTemp(dir, ".writable-*")
	if err != nil {
		if os.IsPermission(err) {
			return errors.Errorf("%s is not writeable by the current user", dir)
		}
		return errors.Wrap(err, "check writability of repo root")
	}
	tmp.Close()
	return os.Remove(tmp.Name())
}
