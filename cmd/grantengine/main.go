package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/dropDatabas3/grantengine/internal/client"
	"github.com/dropDatabas3/grantengine/internal/config"
	"github.com/dropDatabas3/grantengine/internal/domain/repository"
	"github.com/dropDatabas3/grantengine/internal/http/v2/server"
	"github.com/dropDatabas3/grantengine/internal/observability/logger"
)

// version se pisa en build con -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath, envFile string

	root := &cobra.Command{
		Use:           "grantengine",
		Short:         "Authorization server OAuth2/OIDC/UMA: grants, tokens y CIBA",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}
	root.PersistentFlags().StringVar(&configPath, "config", os.Getenv("GRANTENGINE_CONFIG"), "ruta a config.yaml (env GRANTENGINE_CONFIG)")
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "ruta a .env (se ignora si no existe)")

	// carga .env + config y arranca el logger; común a todos los subcomandos
	load := func() (*config.Config, error) {
		if envFile != "" {
			_ = godotenv.Load(envFile)
		}
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		logger.Init(logger.Config{
			Env:         cfg.App.Env,
			Level:       cfg.App.LogLevel,
			ServiceName: "grantengine",
			Version:     version,
		})
		return cfg, nil
	}

	root.AddCommand(
		newServeCmd(load),
		newSweepCmd(load),
		newKeysCmd(load),
		newClientCmd(load),
	)
	return root
}

type loader func() (*config.Config, error)

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// withApp arma el engine completo, corre fn y libera todo.
func withApp(load loader, fn func(ctx context.Context, app *server.App) error) error {
	cfg, err := load()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signalContext()
	defer stop()

	app, err := server.Build(ctx, cfg)
	if err != nil {
		return fmt.Errorf("wiring: %w", err)
	}
	defer app.Close()
	return fn(ctx, app)
}

func newServeCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Levanta el servidor HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(load, func(ctx context.Context, app *server.App) error {
				return app.Serve(ctx)
			})
		},
	}
}

func newSweepCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Borra una vez los registros expirados (grants, tokens, CIBA, códigos)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(load, func(ctx context.Context, app *server.App) error {
				deleted, err := app.Sweeper.Run(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd, deleted)
			})
		},
	}
}

func newKeysCmd(load loader) *cobra.Command {
	keys := &cobra.Command{
		Use:   "keys",
		Short: "Operaciones sobre las claves de firma",
	}
	keys.AddCommand(&cobra.Command{
		Use:   "rotate",
		Short: "Genera una clave ACTIVE nueva; la anterior queda publicada durante el grace",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(load, func(ctx context.Context, app *server.App) error {
				kid, err := app.Keys.Rotate(ctx, app.Config.Tokens.KeyRotationGrace)
				if err != nil {
					return err
				}
				return printJSON(cmd, map[string]string{"kid": kid})
			})
		},
	})
	keys.AddCommand(&cobra.Command{
		Use:   "jwks",
		Short: "Imprime el JWKS publicado",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(load, func(ctx context.Context, app *server.App) error {
				b, err := app.Keys.JWKSJSON(ctx)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), string(b))
				return err
			})
		},
	})
	return keys
}

// clientFile es el YAML que acepta `client register`.
type clientFile struct {
	repository.Client `yaml:",inline"`
	Secret            string `yaml:"client_secret"`
}

func newClientCmd(load loader) *cobra.Command {
	cl := &cobra.Command{
		Use:   "client",
		Short: "Administración de clientes",
	}
	var file string
	register := &cobra.Command{
		Use:   "register",
		Short: "Registra un cliente desde un YAML e imprime el secret generado",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return fmt.Errorf("--file es requerido")
			}
			raw, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			var cf clientFile
			if err := yaml.Unmarshal(raw, &cf); err != nil {
				return fmt.Errorf("parse %s: %w", file, err)
			}
			return withApp(load, func(ctx context.Context, app *server.App) error {
				c, secret, err := app.Clients.Register(ctx, client.RegisterRequest{Client: cf.Client, Secret: cf.Secret})
				if err != nil {
					return err
				}
				out := map[string]any{"client_id": c.ID, "token_endpoint_auth_method": c.AuthMethod}
				if secret != "" {
					out["client_secret"] = secret
				}
				return printJSON(cmd, out)
			})
		},
	}
	register.Flags().StringVarP(&file, "file", "f", "", "YAML con la metadata del cliente")
	cl.AddCommand(register)
	return cl
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
