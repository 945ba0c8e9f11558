package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/goccy/go-json"
	"github.com/jensneuse/abstractlogger"
	"go.uber.org/zap"

	"github.com/hanpama/graphcache/internal/cache"
	"github.com/hanpama/graphcache/internal/config"
	"github.com/hanpama/graphcache/internal/eventbus"
	"github.com/hanpama/graphcache/internal/introspection"
	"github.com/hanpama/graphcache/internal/merge"
	"github.com/hanpama/graphcache/internal/otel"
	"github.com/hanpama/graphcache/internal/response"
	"github.com/hanpama/graphcache/internal/schema"
	"github.com/hanpama/graphcache/internal/server"
	"github.com/hanpama/graphcache/internal/store"
)

const rootUsage = `graphcache - normalized GraphQL response cache & tools

USAGE:
  graphcache <command> [flags]

COMMANDS:
  normalize        Normalize one GraphQL response into a store
  merge            Fold store files into one store
  serve            Run the HTTP cache
  help             Show help for any command
`

const normalizeUsage = `normalize FLAGS:
  -schema <file>       Schema SDL, or introspection result if it ends in .json
  -query <file>        Query document (required)
  -response <file>     GraphQL response; its "data" member is normalized (required)
  -variables <json>    Variables as a JSON object
  -operation <name>    Operation to run when the document has several
  -config <file>       Config file (identity field, pagination vocabulary)
  -pretty              Indent the printed store
`

const mergeUsage = `merge FLAGS:
  -pretty              Indent the printed store
  <store.json>...      Stores to fold, left to right (at least one)
`

const serveUsage = `serve FLAGS:
  -schema <file>               Schema SDL, or introspection result if it ends in .json
  -config <file>               Config file; GRAPHCACHE_* variables override it
  -server.addr <addr>          HTTP listen address (default: :8080)
  -server.pretty               Pretty-print JSON responses
  -otel.endpoint <addr>        OTLP collector endpoint
  -otel.service <name>         OpenTelemetry service name (default: graphcache)
`

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		log.Fatal(err)
	}
}

func run(args []string, stdout io.Writer) error {
	global := flag.NewFlagSet("graphcache", flag.ContinueOnError)
	global.SetOutput(new(bytes.Buffer)) // silence automatic output
	if err := global.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, rootUsage)
		return err
	}
	remaining := global.Args()
	if len(remaining) == 0 {
		fmt.Fprint(os.Stderr, rootUsage)
		return fmt.Errorf("missing command")
	}

	cmd := remaining[0]
	cmdArgs := remaining[1:]
	switch cmd {
	case "normalize":
		return cmdNormalize(cmdArgs, stdout)
	case "merge":
		return cmdMerge(cmdArgs, stdout)
	case "serve":
		return cmdServe(cmdArgs)
	case "help":
		return cmdHelp(cmdArgs, stdout)
	default:
		fmt.Fprint(os.Stderr, rootUsage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func cmdHelp(args []string, stdout io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(stdout, rootUsage)
		return nil
	}
	switch args[0] {
	case "normalize":
		fmt.Fprint(stdout, normalizeUsage)
	case "merge":
		fmt.Fprint(stdout, mergeUsage)
	case "serve":
		fmt.Fprint(stdout, serveUsage)
	default:
		return fmt.Errorf("unknown help topic %q", args[0])
	}
	return nil
}

func cmdNormalize(args []string, stdout io.Writer) error {
	var schemaFile, queryFile, responseFile, variables, operation, configFile string
	pretty := false
	fs := flag.NewFlagSet("normalize", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	fs.StringVar(&schemaFile, "schema", "", "Schema file")
	fs.StringVar(&queryFile, "query", "", "Query document")
	fs.StringVar(&responseFile, "response", "", "GraphQL response")
	fs.StringVar(&variables, "variables", "", "Variables as JSON")
	fs.StringVar(&operation, "operation", "", "Operation name")
	fs.StringVar(&configFile, "config", "", "Config file")
	fs.BoolVar(&pretty, "pretty", pretty, "Indent the printed store")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, normalizeUsage)
		return err
	}
	if queryFile == "" || responseFile == "" {
		fmt.Fprint(os.Stderr, normalizeUsage)
		return fmt.Errorf("-query and -response are required")
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	sch, err := loadSchema(schemaFile)
	if err != nil {
		return err
	}
	query, err := os.ReadFile(queryFile)
	if err != nil {
		return err
	}
	data, err := readData(responseFile)
	if err != nil {
		return err
	}
	var vars map[string]any
	if variables != "" {
		if err := json.Unmarshal([]byte(variables), &vars); err != nil {
			return fmt.Errorf("invalid -variables: %w", err)
		}
	}

	c, err := cache.New(sch, cacheOptions(cfg)...)
	if err != nil {
		return err
	}
	page, err := c.Write(context.Background(), cache.Request{
		Query:         string(query),
		OperationName: operation,
		Variables:     vars,
		Data:          data,
	})
	if err != nil {
		return fmt.Errorf("normalize: %w", err)
	}
	return printStore(stdout, page, pretty)
}

func cmdMerge(args []string, stdout io.Writer) error {
	pretty := false
	fs := flag.NewFlagSet("merge", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	fs.BoolVar(&pretty, "pretty", pretty, "Indent the printed store")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, mergeUsage)
		return err
	}
	if fs.NArg() == 0 {
		fmt.Fprint(os.Stderr, mergeUsage)
		return fmt.Errorf("at least one store file is required")
	}

	var out *store.Store
	for _, path := range fs.Args() {
		b, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		st, err := store.Decode(b)
		if err != nil {
			return fmt.Errorf("decode %s: %w", path, err)
		}
		out, err = merge.Stores(out, st)
		if err != nil {
			return fmt.Errorf("merge %s: %w", path, err)
		}
	}
	return printStore(stdout, out, pretty)
}

func cmdServe(args []string) error {
	var schemaFile, configFile, addr, otelEndpoint, otelService string
	pretty := false
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	fs.StringVar(&schemaFile, "schema", "", "Schema file")
	fs.StringVar(&configFile, "config", "", "Config file")
	fs.StringVar(&addr, "server.addr", "", "HTTP listen address")
	fs.BoolVar(&pretty, "server.pretty", pretty, "Pretty-print JSON responses")
	fs.StringVar(&otelEndpoint, "otel.endpoint", "", "OTLP collector endpoint")
	fs.StringVar(&otelService, "otel.service", "", "OpenTelemetry service name")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, serveUsage)
		return err
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	// Flags given on the command line win over the config file.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "server.addr":
			cfg.Server.Addr = addr
		case "server.pretty":
			cfg.Server.Pretty = pretty
		case "otel.endpoint":
			cfg.Telemetry.Endpoint = otelEndpoint
		case "otel.service":
			cfg.Telemetry.ServiceName = otelService
		}
	})

	logger, flush, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer flush()

	sch, err := loadSchema(schemaFile)
	if err != nil {
		return err
	}

	eventbus.Use(eventbus.New())
	shutdown, err := otel.Setup(cfg.Telemetry.Endpoint, cfg.Telemetry.ServiceName, nil)
	if err != nil {
		return fmt.Errorf("otel setup: %w", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	c, err := cache.New(sch, append(cacheOptions(cfg), cache.WithLogger(logger))...)
	if err != nil {
		return fmt.Errorf("cache init: %w", err)
	}

	sopts := []server.Option{server.WithLogger(logger)}
	if cfg.Server.Pretty {
		sopts = append(sopts, server.WithPretty())
	}
	if cfg.Server.Timeout > 0 {
		sopts = append(sopts, server.WithTimeout(cfg.Server.Timeout))
	}
	if cfg.Server.MaxBodyBytes > 0 {
		sopts = append(sopts, server.WithMaxBodyBytes(cfg.Server.MaxBodyBytes))
	}
	if len(cfg.Server.CORSOrigins) > 0 {
		sopts = append(sopts, server.WithCORS(cfg.Server.CORSOrigins...))
	}
	h, err := server.New(c, sopts...)
	if err != nil {
		return fmt.Errorf("server init: %w", err)
	}

	logger.Info("graphcache listening", abstractlogger.String("addr", cfg.Server.Addr))
	return http.ListenAndServe(cfg.Server.Addr, h)
}

func cacheOptions(cfg config.Config) []cache.Option {
	return []cache.Option{
		cache.WithIdentityField(cfg.IdentityField),
		cache.WithWords(cfg.Pagination),
		cache.WithContextCacheSize(cfg.ContextCacheSize),
	}
}

func newLogger(cfg config.Config) (abstractlogger.Logger, func(), error) {
	level, err := cfg.Level()
	if err != nil {
		return nil, nil, err
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	zl, err := zcfg.Build()
	if err != nil {
		return nil, nil, fmt.Errorf("logger: %w", err)
	}
	return abstractlogger.NewZapLogger(zl, level), func() { _ = zl.Sync() }, nil
}

// loadSchema reads an SDL file, or an introspection result when the name
// ends in .json. An empty path means no schema.
func loadSchema(path string) (*schema.Schema, error) {
	if path == "" {
		return nil, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sch *schema.Schema
	if strings.HasSuffix(path, ".json") {
		sch, err = introspection.FromJSON(b)
	} else {
		sch, err = schema.BuildFromSDL(string(b))
	}
	if err != nil {
		return nil, fmt.Errorf("load schema %s: %w", path, err)
	}
	return sch, nil
}

// readData returns the "data" member of the response in path. A document
// without one is taken as the data itself.
func readData(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	v, err := response.Parse(b)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if data, ok := v.Field("data"); ok {
		if data.IsNull() {
			return nil, errors.New("response has null data")
		}
		return data.MarshalJSON()
	}
	return b, nil
}

func printStore(w io.Writer, st *store.Store, pretty bool) error {
	b, err := st.Encode(pretty)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}
