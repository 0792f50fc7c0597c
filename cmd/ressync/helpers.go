package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"go.uber.org/zap"

	ressync "github.com/ressync/ressync-go"
)

// getClient creates a client from the stored configuration. When auth
// credentials are configured they are sent on every connect.
func getClient() *ressync.Client {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Server.URL == "" {
		fmt.Fprintln(os.Stderr, "No server URL. Run 'ressync init <url>' first.")
		os.Exit(1)
	}

	var opts []ressync.Option
	if cfg.Server.Namespace != "" {
		opts = append(opts, ressync.WithNamespace(cfg.Server.Namespace))
	}
	if verbose {
		log, lerr := zap.NewDevelopment()
		if lerr == nil {
			opts = append(opts, ressync.WithLogger(log))
		}
	}
	if cfg.Auth.RID != "" && cfg.Auth.Method != "" {
		rid, method, token := cfg.Auth.RID, cfg.Auth.Method, cfg.Auth.Token
		opts = append(opts, ressync.WithOnConnect(func(ctx context.Context, c *ressync.Client) error {
			_, aerr := c.Authenticate(ctx, rid, method, map[string]any{"token": token})
			return aerr
		}))
	}

	return ressync.NewClient(cfg.Server.URL, opts...)
}

// printResource writes a resource as indented JSON: a model as its
// properties, a collection as the list of its models' properties.
func printResource(res ressync.Resource) error {
	var v any
	switch r := res.(type) {
	case *ressync.Model:
		v = r.Props()
	case *ressync.Collection:
		list := make([]map[string]any, 0, r.Len())
		for _, m := range r.Models() {
			list = append(list, m.Props())
		}
		v = list
	default:
		return fmt.Errorf("unknown resource kind for %s", res.RID())
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// parseParams decodes an optional JSON argument.
func parseParams(args []string, idx int) (map[string]any, error) {
	if len(args) <= idx {
		return nil, nil
	}
	var params map[string]any
	if err := json.Unmarshal([]byte(args[idx]), &params); err != nil {
		return nil, fmt.Errorf("invalid JSON params: %w", err)
	}
	return params, nil
}
