// Package config loads the repository list and preferred-version pins used
// to drive a transaction. Parsing stays hand-rolled, matching the teacher:
// the directive grammar is bespoke and no third-party library in the pack
// understands it.
package config

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/opkg-go/opkg/internal/logging"
)

// Repository is a single remote catalog source, after $arch/$osrelease
// substitution.
type Repository struct {
	URL string
}

// Config stores the parsed repository list plus any free-form options kept
// for destinations the CLI still needs (cache dir, database dir, log
// paths). Options not recognized by a specific accessor are preserved
// verbatim so higher layers can still reach them.
type Config struct {
	Options      map[string]string
	Repositories []Repository
	Includes     []string
}

// Substituter supplies the live values for $arch and $osrelease tokens.
// Production callers use DefaultSubstituter; tests can substitute a fixed
// pair.
type Substituter struct {
	Arch      string
	OSRelease string
}

// DefaultSubstituter reports the running process's GOARCH and a best-effort
// OS release string. GOARCH is not identical to every pkgsrc MACHINE_ARCH
// spelling, but it is the only live value this process can observe without
// shelling out, and substitution only matters for constructing repository
// URLs the user already wrote with $arch in mind.
func DefaultSubstituter() Substituter {
	return Substituter{Arch: runtime.GOARCH, OSRelease: osReleaseString()}
}

func osReleaseString() string {
	if v, ok := os.LookupEnv("PKG_OSRELEASE"); ok && v != "" {
		return v
	}
	return runtime.GOOS
}

func (s Substituter) expand(line string) string {
	line = strings.ReplaceAll(line, "$arch", s.Arch)
	line = strings.ReplaceAll(line, "$osrelease", s.OSRelease)
	return line
}

// Load parses a repository config file: one URL per line, blank lines and
// "#"-prefixed comments ignored, "$arch"/"$osrelease" substituted using sub.
// A bare "option key value" or "include glob" directive is still honored so
// the cache/database/log paths can live in the same file.
func Load(ctx context.Context, path string, sub Substituter) (*Config, error) {
	cfg := &Config{Options: map[string]string{}}
	visited := map[string]bool{}

	var load func(string) error
	load = func(p string) error {
		if visited[p] {
			return nil
		}
		visited[p] = true

		logging.Debugf(ctx, "config: loading file %s", p)

		file, err := os.Open(p)
		if err != nil {
			return fmt.Errorf("open config %s: %w", p, err)
		}
		defer file.Close()

		scanner := bufio.NewScanner(file)
		lineNo := 0
		for scanner.Scan() {
			lineNo++
			raw := strings.TrimSpace(scanner.Text())
			if raw == "" || strings.HasPrefix(raw, "#") || strings.HasPrefix(raw, "//") {
				continue
			}

			tokens := fields(raw)
			if len(tokens) == 0 {
				continue
			}

			switch tokens[0] {
			case "option":
				if len(tokens) < 3 {
					return fmt.Errorf("%s:%d: option expects key and value", p, lineNo)
				}
				cfg.Options[tokens[1]] = strings.Join(tokens[2:], " ")
			case "include":
				if len(tokens) < 2 {
					return fmt.Errorf("%s:%d: include expects a glob", p, lineNo)
				}
				pattern := tokens[1]
				cfg.Includes = append(cfg.Includes, pattern)
				matches, err := filepath.Glob(pattern)
				if err != nil {
					return fmt.Errorf("%s:%d: invalid glob: %w", p, lineNo, err)
				}
				if len(matches) == 0 {
					logging.Debugf(ctx, "config: include pattern %s from %s matched no files", pattern, p)
					continue
				}
				for _, match := range matches {
					if err := load(match); err != nil {
						return err
					}
				}
			default:
				// A bare line that isn't a directive is a repository URL.
				cfg.Repositories = append(cfg.Repositories, Repository{URL: sub.expand(tokens[0])})
			}
		}
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("read config %s: %w", p, err)
		}
		return nil
	}

	if err := load(path); err != nil {
		return nil, err
	}

	logging.Debugf(ctx, "config: loaded %d repositories, %d options", len(cfg.Repositories), len(cfg.Options))

	return cfg, nil
}

// FindOption returns a configuration value using a case-sensitive key. If
// the key is not found the provided fallback is returned.
func (c *Config) FindOption(key, fallback string) string {
	if c == nil {
		return fallback
	}
	if v, ok := c.Options[key]; ok {
		return v
	}
	return fallback
}

// RepositoryURLs returns the configured repository URLs in file order.
func (c *Config) RepositoryURLs() []string {
	if c == nil {
		return nil
	}
	urls := make([]string, len(c.Repositories))
	for i, r := range c.Repositories {
		urls[i] = r.URL
	}
	return urls
}

// DatabasePath returns the filesystem path to the sqlite catalog database.
func (c *Config) DatabasePath() (string, error) {
	if c == nil {
		return "", errors.New("nil config")
	}
	if path := c.FindOption("database", ""); path != "" {
		return path, nil
	}
	return "", errors.New("database path not configured")
}

// CacheDir returns the directory used to cache downloaded package archives.
func (c *Config) CacheDir() string {
	if c == nil {
		return ""
	}
	if cache := c.FindOption("cache_dir", ""); cache != "" {
		return cache
	}
	if tmp := c.FindOption("tmp_dir", ""); tmp != "" {
		return tmp
	}
	return "/tmp"
}

// InstallPrefix returns the filesystem the external installer unpacks
// packages into, original_source/actions.c's hardcoded LOCALBASE made
// configurable. Distinct from PKG_INSTALL_DIR (see exec.Runner), which
// names the directory the pkg_install tools themselves live in, not where
// they write packages to.
func (c *Config) InstallPrefix() string {
	if c == nil {
		return ""
	}
	if dir := c.FindOption("localbase", ""); dir != "" {
		return dir
	}
	if dir := c.FindOption("prefix", ""); dir != "" {
		return dir
	}
	return "/usr/pkg"
}

// fields is similar to strings.Fields but keeps path-like values intact by
// allowing quoted strings. Only double quotes are supported.
func fields(line string) []string {
	var result []string
	var current strings.Builder
	inQuote := false

	for i := 0; i < len(line); i++ {
		ch := line[i]
		switch ch {
		case '"':
			inQuote = !inQuote
		case ' ', '\t':
			if inQuote {
				current.WriteByte(ch)
			} else if current.Len() > 0 {
				result = append(result, current.String())
				current.Reset()
			}
		default:
			current.WriteByte(ch)
		}
	}
	if current.Len() > 0 {
		result = append(result, current.String())
	}
	return result
}

// EnsureCacheDir creates the cache directory with the provided permissions
// if it does not already exist.
func EnsureCacheDir(ctx context.Context, cfg *Config) (string, error) {
	if cfg == nil {
		return "", errors.New("nil config")
	}
	cache := cfg.CacheDir()
	if cache == "" {
		return "", errors.New("cache directory not configured")
	}
	if err := os.MkdirAll(cache, fs.ModePerm); err != nil {
		return "", fmt.Errorf("create cache dir: %w", err)
	}
	logging.Debugf(ctx, "config: ensured cache directory %s", cache)
	return cache, nil
}

// LoadPreferred parses a preferred-versions file: "name<op>version-glob" per
// line, "#" comments, op in {=, <, >}. A bare "=" is rewritten to "-" so the
// result composes directly with internal/pattern's relational matcher.
func LoadPreferred(ctx context.Context, path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("open preferred config %s: %w", path, err)
	}
	defer file.Close()

	rules := map[string]string{}
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		idx := strings.IndexAny(raw, "=<>")
		if idx < 0 {
			logging.Warnf(ctx, "config: ignoring malformed preferred rule %q", raw)
			continue
		}
		name := raw[:idx]
		op := raw[idx]
		rest := raw[idx+1:]
		if op == '=' {
			rules[name] = name + "-" + rest
			continue
		}
		rules[name] = name + string(op) + rest
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read preferred config %s: %w", path, err)
	}
	return rules, nil
}
