package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rajivgeraev/marketplace-api/internal/backend"
	"github.com/rajivgeraev/marketplace-api/internal/tui"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("MARKETPLACE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "marketplace",
		Short:         "Терминальный клиент маркетплейса",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), v)
		},
	}

	flags := cmd.Flags()
	flags.String("api-url", "http://localhost:8080", "адрес HTTP API")
	flags.String("ws-url", "", "адрес realtime-ленты (по умолчанию выводится из api-url)")
	flags.String("token", "", "ранее выданный access token")
	flags.String("log-file", "", "файл для логов клиента")
	if err := v.BindPFlags(flags); err != nil {
		log.Fatalf("Ошибка привязки флагов: %v", err)
	}
	return cmd
}

func run(ctx context.Context, v *viper.Viper) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Интерфейс занимает терминал, логи пишем в файл или отбрасываем
	if path := v.GetString("log-file"); path != "" {
		f, err := tea.LogToFile(path, "marketplace")
		if err != nil {
			return fmt.Errorf("log file: %w", err)
		}
		defer f.Close()
	} else {
		log.SetOutput(io.Discard)
	}

	client := backend.NewHTTPClient(
		v.GetString("api-url"),
		v.GetString("ws-url"),
		backend.WithAccessToken(v.GetString("token")),
	)
	defer client.Close()

	model := tui.New(ctx, client)
	defer model.Close()

	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := program.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("marketplace: %w", err)
	}
	return nil
}
