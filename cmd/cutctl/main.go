package main

import (
	"context"
	"fmt"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/cutroom/cutroom/internal/logging"
	"github.com/cutroom/cutroom/internal/project"
)

func main() {
	cmd := &cli.Command{
		Name:  "cutctl",
		Usage: "Inspect, preview and render cutroom project files",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("CUTROOM_LOG_LEVEL"),
			},
		},
		Commands: []*cli.Command{
			lanesCommand(),
			renderCommand(),
			previewCommand(),
			checkCommand(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		logging.New(os.Stderr, "error").ErrorWithErr("cutctl failed", err)
		os.Exit(1)
	}
}

func commandLogger(cmd *cli.Command) *logging.Logger {
	logger, err := logging.NewLogger(logging.Config{
		Level:  cmd.String("log-level"),
		Format: "console",
		Output: "stderr",
	})
	if err != nil {
		return logging.New(os.Stderr, "info")
	}
	return logger
}

// readProject loads the project file named by the first argument
func readProject(cmd *cli.Command) (*project.Project, error) {
	path := cmd.Args().First()
	if path == "" {
		return nil, fmt.Errorf("project file argument is required")
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open project: %w", err)
	}
	defer f.Close()

	return project.Read(f)
}

func checkCommand() *cli.Command {
	return &cli.Command{
		Name:      "check",
		Usage:     "Validate a project file",
		ArgsUsage: "<project.yaml>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			p, err := readProject(cmd)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.Root().Writer, "%s: %d sources, %d clips, %dx%d @ %g fps, %d frames\n",
				p.Name, len(p.Sources), len(p.Clips),
				p.Settings.Width, p.Settings.Height, p.Settings.FPS, p.Settings.DurationFrames)
			return nil
		},
	}
}
