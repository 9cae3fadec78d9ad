package cmd

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	lodelib "github.com/justapithecus/lode/lode"
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/parley/cli/config"
	"github.com/pithecene-io/parley/cli/render"
	"github.com/pithecene-io/parley/lode"
)

// TurnsResponse lists archived turns.
type TurnsResponse []*lode.TurnRecord

// Headers implements render.Tabular.
func (t TurnsResponse) Headers() []string {
	return []string{"STARTED", "SESSION", "PERSONA", "OUTCOME", "FRAMES", "SOURCES", "DURATION", "QUESTION"}
}

// Rows implements render.Tabular.
func (t TurnsResponse) Rows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, rec := range t {
		question := ""
		if rec.User != nil {
			question = clip(rec.User.Text, 48)
		}
		rows = append(rows, []string{
			rec.StartedAt.Format(time.RFC3339),
			rec.SessionID,
			rec.Persona,
			rec.Outcome,
			strconv.Itoa(rec.Frames),
			strconv.Itoa(rec.Citations),
			(time.Duration(rec.DurationMS) * time.Millisecond).String(),
			question,
		})
	}
	return rows
}

// ArchiveCommand returns the archive command with its read subcommands.
func ArchiveCommand() *cli.Command {
	return &cli.Command{
		Name:  "archive",
		Usage: "Read archived turns and metrics",
		Subcommands: []*cli.Command{
			archiveTurnsCommand(),
			archiveMetricsCommand(),
		},
	}
}

func archiveReadFlags(extra ...cli.Flag) []cli.Flag {
	flags := []cli.Flag{ConfigFlag}
	flags = append(flags, ArchiveStoreFlags()...)
	flags = append(flags, OutputFlags()...)
	return append(flags, extra...)
}

func archiveTurnsCommand() *cli.Command {
	return &cli.Command{
		Name:  "turns",
		Usage: "List archived turns",
		Flags: archiveReadFlags(
			&cli.StringFlag{Name: "session-id", Usage: "Only turns of this session"},
			&cli.StringFlag{Name: "persona", Usage: "Only turns of this persona"},
			&cli.StringFlag{Name: "day", Usage: "Only turns started on this day (YYYY-MM-DD, UTC)"},
		),
		Action: archiveTurnsAction,
	}
}

func archiveTurnsAction(c *cli.Context) error {
	if day := c.String("day"); day != "" {
		if _, err := time.Parse("2006-01-02", day); err != nil {
			return cli.Exit(fmt.Sprintf("invalid --day %q: expected YYYY-MM-DD", day), exitError)
		}
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	ds, err := openReadDataset(c)
	if err != nil {
		return cli.Exit(err.Error(), exitError)
	}

	turns, err := lode.QueryTurns(c.Context, ds, lode.TurnFilter{
		SessionID: c.String("session-id"),
		PersonaID: c.String("persona"),
		Day:       c.String("day"),
	})
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to read archive: %v", err), exitError)
	}
	if turns == nil {
		turns = []*lode.TurnRecord{}
	}
	return r.Render(TurnsResponse(turns))
}

func archiveMetricsCommand() *cli.Command {
	return &cli.Command{
		Name:  "metrics",
		Usage: "Show the latest archived metrics snapshot",
		Flags: archiveReadFlags(
			&cli.StringFlag{Name: "client-id", Usage: "Only metrics written by this client"},
		),
		Action: archiveMetricsAction,
	}
}

func archiveMetricsAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	ds, err := openReadDataset(c)
	if err != nil {
		return cli.Exit(err.Error(), exitError)
	}

	record, err := lode.QueryLatestMetrics(c.Context, ds, c.String("client-id"))
	if errors.Is(err, lode.ErrNoMetricsFound) {
		return cli.Exit("no metrics found", exitError)
	}
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to read archive: %v", err), exitError)
	}
	return r.Render(record)
}

// openReadDataset resolves the archive store flags against parley.yaml and
// opens the dataset read-only.
func openReadDataset(c *cli.Context) (lodelib.Dataset, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	choice := resolveArchiveStore(c, configVal(cfg, func(c *config.Config) config.ArchiveConfig { return c.Archive }))
	if choice.path == "" {
		return nil, errors.New("--archive-path is required (or archive.path in parley.yaml)")
	}
	return buildReadDataset(c.Context, choice)
}

func buildReadDataset(ctx context.Context, choice archiveChoice) (lodelib.Dataset, error) {
	switch choice.backend {
	case "fs":
		return lode.NewReadDatasetFS(choice.dataset, choice.path)
	case "s3":
		return lode.NewReadDatasetS3(ctx, choice.dataset, choice.s3Config())
	default:
		return nil, fmt.Errorf("invalid --archive-backend %q (must be fs or s3)", choice.backend)
	}
}
