package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/fatih/color"

	"github.com/mattnowzari/mcpbridge/internal/bridge"
	"github.com/mattnowzari/mcpbridge/internal/config"
	"github.com/mattnowzari/mcpbridge/internal/reconcile"
	"github.com/mattnowzari/mcpbridge/internal/registry"
	"github.com/mattnowzari/mcpbridge/internal/schema"
)

var (
	headline = color.New(color.FgCyan, color.Bold)
	okMark   = color.New(color.FgGreen)
	delMark  = color.New(color.FgRed)
	dimText  = color.New(color.Faint)
)

// configCreds adapts the loaded config to the executor's credential
// source port.
type configCreds struct {
	cfg *config.Config
}

func (c configCreds) Endpoint(_ context.Context, server string) (bridge.Endpoint, error) {
	sc, err := c.cfg.Server(server)
	if err != nil {
		return bridge.Endpoint{}, err
	}
	return bridge.Endpoint{
		URL:             sc.URL,
		Token:           sc.Token,
		Headers:         sc.Headers,
		InsecureSkipTLS: sc.InsecureSkipTLS,
	}, nil
}

// openRegistry builds the projected-tool registry the config asks for:
// SQLite when a path is configured, in-memory otherwise. The returned
// cleanup func closes the database when there is one.
func openRegistry(cfg *config.Config) (reconcile.Registry, func() error, error) {
	if cfg.Registry.Path == "" {
		return registry.NewMemory(), func() error { return nil }, nil
	}

	db, err := sql.Open("sqlite3", cfg.Registry.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("open registry database: %w", err)
	}
	store, err := registry.NewSQLite(db)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return store, db.Close, nil
}

// runTools discovers and prints a server's capabilities.
func runTools(ctx context.Context, stdout, stderr io.Writer, configPath, outputFmt, server string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(stderr, cfg.LogLevel)

	executor := bridge.NewExecutor(configCreds{cfg}, logger)
	defer executor.Close()

	tools, err := executor.Discover(ctx, server)
	if err != nil {
		return fmt.Errorf("discover %s: %w", server, err)
	}

	if outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(tools)
	}

	headline.Fprintf(stdout, "%s: %d capabilities\n", server, len(tools))
	for _, td := range tools {
		fmt.Fprintf(stdout, "  %s\n", td.Name)
		if td.Description != "" {
			dimText.Fprintf(stdout, "    %s\n", td.Description)
		}
		v := schema.ToValidator(td.InputSchema)
		for _, name := range sortedFieldNames(v) {
			f := v.Fields[name]
			req := ""
			if f.Required {
				req = " (required)"
			}
			kind := string(f.Kind)
			if f.Kind == schema.KindArray {
				kind = fmt.Sprintf("array of %s", f.Elem)
			}
			fmt.Fprintf(stdout, "    - %s: %s%s\n", name, kind, req)
		}
	}
	return nil
}

// runCall executes one capability and prints the normalized result.
func runCall(ctx context.Context, stdout, stderr io.Writer, configPath, outputFmt string, cmdArgs []string) error {
	server, capability := cmdArgs[0], cmdArgs[1]

	args := map[string]any{}
	if len(cmdArgs) > 2 {
		if err := json.Unmarshal([]byte(cmdArgs[2]), &args); err != nil {
			return fmt.Errorf("parse arguments: %w", err)
		}
	}

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(stderr, cfg.LogLevel)

	executor := bridge.NewExecutor(configCreds{cfg}, logger)
	defer executor.Close()

	result, err := executor.Execute(ctx, server, capability, args)
	if err != nil {
		return err
	}

	if outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	fmt.Fprintln(stdout, result.Text)
	return nil
}

// runSync reconciles the config file's capability selections against
// the registry, for one server or all of them.
func runSync(ctx context.Context, stdout, stderr io.Writer, configPath, server string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(stderr, cfg.LogLevel)

	reg, closeReg, err := openRegistry(cfg)
	if err != nil {
		return err
	}
	defer closeReg()

	executor := bridge.NewExecutor(configCreds{cfg}, logger)
	defer executor.Close()

	state := config.NewStateFile(cfg.StatePath())
	rec := reconcile.New(executor, reg, state, logger)

	servers := []string{server}
	if server == "" {
		servers = cfg.ServerNames()
		sort.Strings(servers)
	}
	if len(servers) == 0 {
		return fmt.Errorf("no servers configured")
	}

	var failed bool
	for _, name := range servers {
		sc, err := cfg.Server(name)
		if err != nil {
			return err
		}

		summary, err := rec.Reconcile(ctx, reconcile.Selection{
			Server:       name,
			Capabilities: sc.Capabilities,
		})
		if err != nil {
			failed = true
			delMark.Fprintf(stdout, "%s: %v\n", name, err)
			continue
		}

		headline.Fprintf(stdout, "%s:\n", name)
		if summary.Skipped {
			dimText.Fprintln(stdout, "  skipped (reconciliation in flight)")
			continue
		}
		for _, c := range summary.Deleted {
			delMark.Fprintf(stdout, "  - %s\n", c)
		}
		for _, c := range summary.Created {
			okMark.Fprintf(stdout, "  + %s\n", c)
		}
		if len(summary.Created) == 0 && len(summary.Deleted) == 0 {
			dimText.Fprintln(stdout, "  up to date")
		}
	}

	if failed {
		return fmt.Errorf("sync finished with errors")
	}
	return nil
}

// runProjected lists the projected tools currently in the registry.
func runProjected(ctx context.Context, stdout, stderr io.Writer, configPath, outputFmt, server string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	reg, closeReg, err := openRegistry(cfg)
	if err != nil {
		return err
	}
	defer closeReg()

	tools, err := reg.List(ctx, server)
	if err != nil {
		return err
	}

	if outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(tools)
	}

	for _, pt := range tools {
		fmt.Fprintf(stdout, "%s  %s  %s/%s\n", pt.LocalID, pt.Name, pt.Server, pt.Capability)
	}
	if len(tools) == 0 {
		dimText.Fprintln(stdout, "no projected tools")
	}
	return nil
}

func sortedFieldNames(v *schema.Validator) []string {
	names := make([]string, 0, len(v.Fields))
	for name := range v.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
