package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ehr/clinicaldocs/internal/config"
	"github.com/ehr/clinicaldocs/internal/domain/notedocument"
	"github.com/ehr/clinicaldocs/internal/domain/notesection"
	"github.com/ehr/clinicaldocs/internal/platform/db"
	"github.com/ehr/clinicaldocs/internal/platform/noterender"
	"github.com/ehr/clinicaldocs/internal/platform/notification"
	"github.com/ehr/clinicaldocs/migrations"
)

// migrationsFS returns the embedded migrations, or dir when set.
func migrationsFS(dir string) fs.FS {
	if dir == "" {
		return migrations.FS
	}
	return os.DirFS(dir)
}

// withPool loads config, connects and runs fn.
func withPool(fn func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(ctx, cfg, pool)
}

// withTenant is withPool with a connection pinned to the tenant schema.
// An empty tenant means the configured default tenant.
func withTenant(tenant string, fn func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error) error {
	return withPool(func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
		if tenant == "" {
			tenant = cfg.DefaultTenant
		}
		ctx, release, err := db.AcquireTenantConn(ctx, pool, tenant)
		if err != nil {
			return err
		}
		defer release()
		return fn(ctx, cfg, pool)
	})
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			return withPool(func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
				if !cmd.Flags().Changed("dir") {
					dir = cfg.MigrationsDir
				}
				migrator := db.NewMigrator(pool, migrationsFS(dir))
				fmt.Fprintf(cmd.OutOrStdout(), "Running migrations on schema: %s\n", schema)

				count, err := migrator.Up(ctx, schema)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	}
	upCmd.Flags().String("schema", db.SchemaName("default"), "Target schema for migrations")
	upCmd.Flags().String("dir", "", "Migrations directory (default: embedded migrations)")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			return withPool(func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
				if !cmd.Flags().Changed("dir") {
					dir = cfg.MigrationsDir
				}
				statuses, err := db.NewMigrator(pool, migrationsFS(dir)).Status(ctx, schema)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Migration status for schema: %s\n", schema)
				fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
				fmt.Fprintln(out, "---------- ---------------------------------------- ---------- --------------------")
				for _, s := range statuses {
					status := "pending"
					appliedAt := ""
					if s.Applied {
						status = "applied"
						if s.AppliedAt != nil {
							appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
						}
					}
					fmt.Fprintf(out, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
				}
				return nil
			})
		},
	}
	statusCmd.Flags().String("schema", db.SchemaName("default"), "Target schema for migrations")
	statusCmd.Flags().String("dir", "", "Migrations directory (default: embedded migrations)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenants",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a tenant schema and apply migrations to it",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			if name == "" {
				return fmt.Errorf("--name is required")
			}

			return withPool(func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
				fmt.Fprintf(cmd.OutOrStdout(), "Creating tenant schema: %s\n", db.SchemaName(name))
				if err := db.CreateTenantSchema(ctx, pool, name, migrationsFS(cfg.MigrationsDir)); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Tenant created successfully.")
				return nil
			})
		},
	}
	createCmd.Flags().String("name", "", "Tenant identifier (alphanumeric)")

	cmd.AddCommand(createCmd)
	return cmd
}

// sectionFile is the on-disk form of a section library.
type sectionFile struct {
	Sections []*notesection.Section `json:"sections" yaml:"sections"`
}

// fileFormat picks json or yaml from an explicit flag or the file extension.
func fileFormat(flag, path string) (string, error) {
	f := strings.ToLower(flag)
	if f == "" {
		switch strings.ToLower(filepath.Ext(path)) {
		case ".json":
			f = "json"
		default:
			f = "yaml"
		}
	}
	switch f {
	case "json", "yaml":
		return f, nil
	case "yml":
		return "yaml", nil
	}
	return "", fmt.Errorf("unsupported format %q, want json or yaml", flag)
}

func decodeSections(data []byte, format string) ([]*notesection.Section, error) {
	var file sectionFile
	var err error
	if format == "json" {
		err = json.Unmarshal(data, &file)
	} else {
		err = yaml.Unmarshal(data, &file)
	}
	if err != nil {
		return nil, fmt.Errorf("decode sections: %w", err)
	}
	for i, s := range file.Sections {
		if s == nil {
			return nil, fmt.Errorf("decode sections: entry %d is empty", i)
		}
	}
	return file.Sections, nil
}

func encodeSections(w io.Writer, sections []*notesection.Section, format string) error {
	if sections == nil {
		sections = []*notesection.Section{}
	}
	file := sectionFile{Sections: sections}
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(file)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(file); err != nil {
		return err
	}
	return enc.Close()
}

func sectionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sections",
		Short: "Import or export note section definitions",
	}

	importCmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Create or update sections by name from a YAML or JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, _ := cmd.Flags().GetString("tenant")
			formatFlag, _ := cmd.Flags().GetString("format")

			format, err := fileFormat(formatFlag, args[0])
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			defs, err := decodeSections(data, format)
			if err != nil {
				return err
			}

			return withTenant(tenant, func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
				logger := newLogger(cfg.Env)
				svcs := newServices(pool, cfg, notification.NewBus(logger, notification.LogSink(logger)), logger)
				res, err := svcs.sections.Import(ctx, defs)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Imported %d section(s): %d created, %d updated.\n",
					res.Created+res.Updated, res.Created, res.Updated)
				return nil
			})
		},
	}
	importCmd.Flags().String("tenant", "", "Tenant identifier (default: DEFAULT_TENANT)")
	importCmd.Flags().String("format", "", "json or yaml (default: from file extension)")
	cmd.AddCommand(importCmd)

	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Write every active section as YAML or JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, _ := cmd.Flags().GetString("tenant")
			formatFlag, _ := cmd.Flags().GetString("format")
			out, _ := cmd.Flags().GetString("out")

			format, err := fileFormat(formatFlag, out)
			if err != nil {
				return err
			}

			return withTenant(tenant, func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
				svcs := newServices(pool, cfg, notification.Nop{}, newLogger(cfg.Env))
				sections, err := svcs.sections.Export(ctx)
				if err != nil {
					return err
				}
				var buf bytes.Buffer
				if err := encodeSections(&buf, sections, format); err != nil {
					return err
				}
				return writeOutput(cmd.OutOrStdout(), out, buf.Bytes())
			})
		},
	}
	exportCmd.Flags().String("tenant", "", "Tenant identifier (default: DEFAULT_TENANT)")
	exportCmd.Flags().String("format", "", "json or yaml (default: from --out extension, else yaml)")
	exportCmd.Flags().String("out", "", "Output file (default: stdout)")
	cmd.AddCommand(exportCmd)

	return cmd
}

// writeOutput writes data to path, or to stdout when path is empty or "-".
func writeOutput(stdout io.Writer, path string, data []byte) error {
	if path == "" || path == "-" {
		_, err := stdout.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func renderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render a saved visit note as json, html or pdf",
		RunE: func(cmd *cobra.Command, args []string) error {
			visitID, _ := cmd.Flags().GetString("visit-id")
			format, _ := cmd.Flags().GetString("format")
			out, _ := cmd.Flags().GetString("out")
			tenant, _ := cmd.Flags().GetString("tenant")
			if visitID == "" {
				return fmt.Errorf("--visit-id is required")
			}

			renderer, err := noterender.NewRegistry().Lookup(format)
			if err != nil {
				return err
			}

			return withTenant(tenant, func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
				svcs := newServices(pool, cfg, notification.Nop{}, newLogger(cfg.Env))
				doc, err := svcs.documents.Compose(ctx, visitID)
				if err != nil {
					var es *notedocument.ErrorState
					if errors.As(err, &es) && es.Retryable {
						return fmt.Errorf("%s (reason: %s, retry later)", es.Message, es.Reason)
					}
					return err
				}
				var buf bytes.Buffer
				if err := renderer.Render(&buf, doc); err != nil {
					return fmt.Errorf("render document: %w", err)
				}
				return writeOutput(cmd.OutOrStdout(), out, buf.Bytes())
			})
		},
	}
	cmd.Flags().String("visit-id", "", "Visit whose latest note is rendered")
	cmd.Flags().String("format", "json", "Output format: json, html or pdf")
	cmd.Flags().String("out", "", "Output file (default: stdout)")
	cmd.Flags().String("tenant", "", "Tenant identifier (default: DEFAULT_TENANT)")
	return cmd
}
