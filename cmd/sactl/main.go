// main.go - Admin control tool for sitealerts
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"

	"log/slog"

	"sitealerts/internal"
	"sitealerts/internal/alerts"
	"sitealerts/internal/config"
	"sitealerts/internal/counters"
	"sitealerts/internal/jobs"
	"sitealerts/internal/seeder"
	"sitealerts/internal/stats"
)

const (
	defaultShutdownTimeout = 30 * time.Second
)

// Command defines the interface for all command implementations
type Command interface {
	// Name returns the command name
	Name() string
	// Description returns the command description
	Description() string
	// Execute runs the command with the given app and args
	Execute(ctx context.Context, app *internal.Application, args []string) error
}

// The set of available commands
var commands = []Command{
	&MigrateCommand{},
	&SeedCommand{},
	&FlushCommand{},
	&TruncateCommand{},
	&HashPasswordCommand{},
	&StatusCommand{},
	&HelpCommand{},
}

// commandsWithoutApp run before configuration or database are available.
var commandsWithoutApp = map[string]bool{
	"hash-password": true,
	"help":          true,
}

func main() {
	flag.Parse()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sig := <-sigChan
		log.Printf("Received signal: %v, initiating cleanup...", sig)
		cancel()
	}()

	cmdName, args := parseArgs()

	cmd := findCommand(cmdName)
	if cmd == nil {
		showUsageAndExit()
	}

	var app *internal.Application
	if !commandsWithoutApp[cmd.Name()] {
		var err error
		app, err = internal.NewApp()
		if err != nil {
			log.Fatalf("Failed to initialize app: %v", err)
		}

		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
			defer cancel()
			if err := app.Shutdown(shutdownCtx); err != nil {
				log.Printf("Warning: Cleanup error: %v", err)
			}
		}()
	}

	if err := cmd.Execute(ctx, app, args); err != nil {
		log.Fatalf("Command failed: %v", err)
	}

	log.Printf("Command %s completed successfully", cmd.Name())
}

// MigrateCommand runs database migrations
type MigrateCommand struct{}

func (c *MigrateCommand) Name() string        { return "migrate" }
func (c *MigrateCommand) Description() string { return "Runs database migrations" }

func (c *MigrateCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	log.Println("Running database migrations...")

	if err := app.DBManager.MigrateDatabase(); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	log.Println("Migrations completed successfully")
	return nil
}

// SeedCommand populates the DB with demo data
type SeedCommand struct{}

func (c *SeedCommand) Name() string        { return "seed" }
func (c *SeedCommand) Description() string { return "Seeds the database with demo history and counters" }

func (c *SeedCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	fs := flag.NewFlagSet("seed", flag.ContinueOnError)
	days := fs.Int("days", stats.BaselineWindowDays+1, "number of history days to generate")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if err := app.DBManager.MigrateDatabase(); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	se := seeder.NewSeeder(app.DBManager, slog.Default(), *days)
	return se.Run(ctx)
}

// FlushCommand triggers the daily flush immediately
type FlushCommand struct{}

func (c *FlushCommand) Name() string { return "flush" }
func (c *FlushCommand) Description() string {
	return "Flushes yesterday's counters into daily stats and runs alert rules"
}

func (c *FlushCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	job := jobs.NewFlushJob(app.DBManager, slog.Default(), config.GetConfig())
	return job.Run()
}

// TruncateCommand wipes collected data, keeping the schema
type TruncateCommand struct{}

func (c *TruncateCommand) Name() string        { return "truncate" }
func (c *TruncateCommand) Description() string { return "Deletes all stats, alerts, and counters" }

func (c *TruncateCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	db := app.DBManager.GetConnection()

	for _, model := range []interface{}{
		&stats.DailyStat{},
		&alerts.Alert{},
		&counters.CounterRecord{},
	} {
		if err := db.Where("1 = 1").Delete(model).Error; err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	log.Println("All collected data deleted")
	return nil
}

// HashPasswordCommand generates a bcrypt hash for the admin password env var
type HashPasswordCommand struct{}

func (c *HashPasswordCommand) Name() string { return "hash-password" }
func (c *HashPasswordCommand) Description() string {
	return "Generates the bcrypt hash to set as SITEALERTS_ADMIN_PASSWORD_HASH"
}

func (c *HashPasswordCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	fmt.Print("Enter admin password: ")
	pwd1, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}

	fmt.Print("Confirm admin password: ")
	pwd2, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}

	if string(pwd1) != string(pwd2) {
		return fmt.Errorf("passwords do not match")
	}
	if len(pwd1) == 0 {
		return fmt.Errorf("password cannot be empty")
	}

	hash, err := bcrypt.GenerateFromPassword(pwd1, bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	fmt.Printf("SITEALERTS_ADMIN_PASSWORD_HASH=%s\n", hash)
	return nil
}

// StatusCommand implements a command to check the system status
type StatusCommand struct{}

func (c *StatusCommand) Name() string        { return "status" }
func (c *StatusCommand) Description() string { return "Shows the current system status" }

func (c *StatusCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	db := app.DBManager.GetConnection()

	var statDays, alertCount, counterCount int64
	if err := db.Model(&stats.DailyStat{}).Count(&statDays).Error; err != nil {
		return fmt.Errorf("database error: %w", err)
	}
	if err := db.Model(&alerts.Alert{}).Count(&alertCount).Error; err != nil {
		return fmt.Errorf("database error: %w", err)
	}
	if err := db.Model(&counters.CounterRecord{}).Count(&counterCount).Error; err != nil {
		return fmt.Errorf("database error: %w", err)
	}

	log.Println("System Status:")
	log.Println("- Database: Connected")
	log.Printf("- Daily stats: %d", statDays)
	log.Printf("- Alerts: %d", alertCount)
	log.Printf("- Pending counters: %d", counterCount)

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get SQL DB: %w", err)
	}

	log.Printf("- Max Open Connections: %d", sqlDB.Stats().MaxOpenConnections)
	log.Printf("- Open Connections: %d", sqlDB.Stats().OpenConnections)

	return nil
}

// HelpCommand implements a command to show usage information
type HelpCommand struct{}

func (c *HelpCommand) Name() string        { return "help" }
func (c *HelpCommand) Description() string { return "Shows usage information" }

func (c *HelpCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	printUsage()
	return nil
}

// Helper functions

// parseArgs parses the command name and arguments
func parseArgs() (string, []string) {
	args := os.Args[1:]
	if len(args) == 0 {
		return "help", []string{}
	}
	return args[0], args[1:]
}

// findCommand finds a command by name
func findCommand(name string) Command {
	for _, cmd := range commands {
		if cmd.Name() == name {
			return cmd
		}
	}
	return nil
}

func printUsage() {
	fmt.Println("Usage: sactl [command] [args...]")
	fmt.Println("Available commands:")

	for _, cmd := range commands {
		fmt.Printf("  %s: %s\n", cmd.Name(), cmd.Description())
	}
}

// showUsageAndExit shows usage information and exits
func showUsageAndExit() {
	printUsage()
	os.Exit(1)
}
