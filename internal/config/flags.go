package config

import (
	"flag"
	"fmt"
	"io"
	"strings"
)

// CLIOptions holds the parsed command line. Only flags that were given
// explicitly override the other configuration sources.
type CLIOptions struct {
	ConfigPath string

	overrides []func(*Config)
}

// Apply writes every explicitly set flag into cfg.
func (o *CLIOptions) Apply(cfg *Config) {
	for _, override := range o.overrides {
		override(cfg)
	}
}

// ParseFlags parses args (without the program name). Each option has a short
// and a long spelling, e.g. -p and --port. It returns flag.ErrHelp when -?,
// -h or --help was requested, after printing usage to output.
//
// Boolean options also accept their value as the next argument
// ("-c false"). Any other positional argument is an error.
func ParseFlags(name string, args []string, output io.Writer) (*CLIOptions, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(output)

	var (
		opts         CLIOptions
		port, maxAge int
		root, index  string
		host, level  string
		cacheControl bool
		expires      bool
		etag         bool
		lastModified bool
		help         bool
	)

	fs.StringVar(&opts.ConfigPath, "config", "", "Path to a configuration file (TOML, JSON or YAML)")
	intFlag(fs, &port, "p", "port", 0, "Port number")
	stringFlag(fs, &root, "r", "root", "Static resource directory")
	stringFlag(fs, &index, "i", "index", "Default page")
	boolFlag(fs, &cacheControl, "c", "cachecontrol", "Use Cache-Control")
	boolFlag(fs, &expires, "e", "expires", "Use Expires")
	boolFlag(fs, &etag, "t", "etag", "Use ETag")
	boolFlag(fs, &lastModified, "l", "lastmodified", "Use Last-Modified")
	intFlag(fs, &maxAge, "m", "maxage", 0, "Time a file should be cached for, in seconds")
	fs.StringVar(&host, "host", "", "Interface to listen on")
	fs.StringVar(&level, "loglevel", "", "Log level (debug, info, warn, error)")
	fs.BoolVar(&help, "?", false, "Show help")

	if err := fs.Parse(joinBoolValues(args)); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		err := fmt.Errorf("unexpected argument %q: options take the form -name value, booleans also -c=false", fs.Arg(0))
		fmt.Fprintln(output, err)
		fs.Usage()
		return nil, err
	}
	if help {
		fs.Usage()
		return nil, flag.ErrHelp
	}

	setters := map[string]func(*Config){
		"port":         func(c *Config) { c.Server.Port = port },
		"root":         func(c *Config) { c.Server.RootDirectory = root },
		"index":        func(c *Config) { c.Server.IndexPageName = index },
		"cachecontrol": func(c *Config) { c.Server.EnableCacheControl = cacheControl },
		"expires":      func(c *Config) { c.Server.EnableExpires = expires },
		"etag":         func(c *Config) { c.Server.EnableETag = etag },
		"lastmodified": func(c *Config) { c.Server.EnableLastModified = lastModified },
		"maxage":       func(c *Config) { c.Server.MaxAgeSeconds = maxAge },
		"host":         func(c *Config) { c.Server.Host = host },
		"loglevel":     func(c *Config) { c.Logging.Level = LogLevel(level) },
	}
	seen := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		long := f.Name
		if l, ok := shortNames[f.Name]; ok {
			long = l
		}
		if set, ok := setters[long]; ok && !seen[long] {
			seen[long] = true
			opts.overrides = append(opts.overrides, set)
		}
	})
	return &opts, nil
}

var shortNames = map[string]string{
	"p": "port",
	"r": "root",
	"i": "index",
	"c": "cachecontrol",
	"e": "expires",
	"t": "etag",
	"l": "lastmodified",
	"m": "maxage",
}

// joinBoolValues rewrites "-c false" as "-c=false" for the boolean options,
// which the flag package would otherwise treat as "-c" followed by a
// positional "false".
func joinBoolValues(args []string) []string {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			return append(out, args[i:]...)
		}
		name := strings.TrimLeft(arg, "-")
		if strings.HasPrefix(arg, "-") && boolOptions[name] && i+1 < len(args) {
			if next := args[i+1]; next == "true" || next == "false" {
				out = append(out, arg+"="+next)
				i++
				continue
			}
		}
		out = append(out, arg)
	}
	return out
}

var boolOptions = map[string]bool{
	"c": true, "cachecontrol": true,
	"e": true, "expires": true,
	"t": true, "etag": true,
	"l": true, "lastmodified": true,
}

func intFlag(fs *flag.FlagSet, p *int, short, long string, value int, usage string) {
	fs.IntVar(p, short, value, usage)
	fs.IntVar(p, long, value, usage)
}

func stringFlag(fs *flag.FlagSet, p *string, short, long, usage string) {
	fs.StringVar(p, short, "", usage)
	fs.StringVar(p, long, "", usage)
}

func boolFlag(fs *flag.FlagSet, p *bool, short, long, usage string) {
	fs.BoolVar(p, short, true, usage)
	fs.BoolVar(p, long, true, usage)
}
