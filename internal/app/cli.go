// Package app wires the urfave/cli/v2 composition root the cmd/schedcore
// binary runs: one SchedulingCoordinator built fresh per invocation over
// the configured SQLite-backed EventLog, driven by a handful of manual
// exercise commands.
package app

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"scheduling-core/internal/coordinator"
	"scheduling-core/internal/core"
	"scheduling-core/internal/eventlog"
	"scheduling-core/internal/history"
	"scheduling-core/internal/taskmodel"
)

const (
	fName     = "name"
	fDuration = "duration"
	fParent   = "parent"
	fAfter    = "after"
)

// New builds the *cli.App. main.go's only job is to run it and report a
// fatal error.
func New() *cli.App {
	return &cli.App{
		Name:  "schedcore",
		Usage: "exercise the scheduling core's CPM engine and event-sourced task model",

		Writer:    os.Stdout,
		ErrWriter: os.Stderr,

		Flags: []cli.Flag{
			&cli.PathFlag{Name: "db", Usage: "override SCHED_DB_PATH for this invocation"},
		},

		Commands: []*cli.Command{
			initCommand(),
			addTaskCommand(),
			scheduleCommand(),
			addPartnerCommand(),
			partnersCommand(),
			undoCommand(),
			redoCommand(),
		},
	}
}

// session is the composition root shared by every command: it loads
// Config, opens the EventLog, builds the Store/HistoryManager/Coordinator
// graph, recovers from the last snapshot, and runs one CPM pass.
type session struct {
	log   *core.Logger
	store *taskmodel.Store
	elog  *eventlog.Log
	coord *coordinator.Coordinator
}

func openSession(ctx *cli.Context) (*session, error) {
	log := core.NewDefaultLogger()

	cfg, err := core.LoadConfig()
	if err != nil {
		return nil, err
	}
	if db := ctx.Path("db"); db != "" {
		cfg.DatabasePath = db
	}

	elog, err := eventlog.Open(ctx.Context, cfg, log)
	if err != nil {
		return nil, err
	}

	store := taskmodel.NewStore(log)
	hist := history.NewManager(cfg.HistoryStackDepth)
	coord := coordinator.New(store, elog, hist, cfg, log)
	if err := coord.Initialize(ctx.Context); err != nil {
		elog.Close()
		return nil, err
	}

	return &session{log: log, store: store, elog: elog, coord: coord}, nil
}

// close flushes any queued events and closes the database. CLI commands
// are one-shot, so there is no background writer goroutine to stop; the
// explicit flush is what a long-running process's writer tick would
// otherwise have done for it.
func (s *session) close(ctx context.Context) error {
	if err := s.elog.FlushNow(ctx); err != nil {
		return err
	}
	return s.elog.Close()
}

func initCommand() *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "create (or open) the scheduling database and print an empty read model",
		Action: func(ctx *cli.Context) error {
			sess, err := openSession(ctx)
			if err != nil {
				return err
			}
			defer sess.close(ctx.Context)

			rm := sess.coord.ReadModel()
			fmt.Fprintln(ctx.App.Writer, core.Success(fmt.Sprintf("scheduling database ready: %d tasks loaded", len(rm.Tasks))))
			return nil
		},
	}
}

func addTaskCommand() *cli.Command {
	return &cli.Command{
		Name:  "add-task",
		Usage: "add a task to the schedule",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: fName, Required: true, Usage: "task name"},
			&cli.IntFlag{Name: fDuration, Value: 1, Usage: "duration in working days"},
			&cli.StringFlag{Name: fParent, Usage: "parent task id (child-of position)"},
			&cli.StringFlag{Name: fAfter, Usage: "sibling task id to insert after"},
		},
		Action: func(ctx *cli.Context) error {
			sess, err := openSession(ctx)
			if err != nil {
				return err
			}
			defer sess.close(ctx.Context)

			pos := coordinator.Position{Mode: coordinator.PositionAppend}
			switch {
			case ctx.String(fAfter) != "":
				pos = coordinator.Position{Mode: coordinator.PositionAfter, RefID: ctx.String(fAfter)}
			case ctx.String(fParent) != "":
				pos = coordinator.Position{Mode: coordinator.PositionChildOf, RefID: ctx.String(fParent)}
			}

			id, diag := sess.coord.AddTask(coordinator.TaskInput{
				Name:     ctx.String(fName),
				Duration: ctx.Int(fDuration),
			}, pos)
			if diag != nil {
				return diag
			}

			fmt.Fprintln(ctx.App.Writer, core.Success(fmt.Sprintf("added task %s (%s)", ctx.String(fName), id)))
			return nil
		},
	}
}

func scheduleCommand() *cli.Command {
	return &cli.Command{
		Name:  "schedule",
		Usage: "run the critical path method and print the computed schedule",
		Action: func(ctx *cli.Context) error {
			sess, err := openSession(ctx)
			if err != nil {
				return err
			}
			defer sess.close(ctx.Context)

			spinner := core.NewSpinner("computing critical path", core.IsSilent())
			spinner.Start()
			rm := sess.coord.ReadModel()
			spinner.Stop(!rm.Stats.Diverged)

			printReadModel(ctx, rm)
			return nil
		},
	}
}

func printReadModel(ctx *cli.Context, rm coordinator.ReadModel) {
	w := ctx.App.Writer
	fmt.Fprintf(w, "%s working days, %d exception(s)\n", core.BoldText("calendar:"), len(rm.Calendar.Exceptions))
	fmt.Fprintf(w, "%s %d tasks, %d critical, %d pending write(s)\n",
		core.BoldText("schedule:"), rm.Stats.TaskCount, rm.Stats.CriticalCount, rm.PendingWrites)

	for _, t := range rm.Tasks {
		if t.RowType != taskmodel.RowTask {
			continue
		}
		line := fmt.Sprintf("  %3d  %-28s %10s -> %-10s float=%-3d health=%s",
			t.VisualRowNumber, t.Name, t.Start, t.End, t.TotalFloat, t.Health)
		switch {
		case t.IsCritical:
			line = core.BoldText(core.Error(line))
		case t.Health == taskmodel.HealthAtRisk:
			line = core.Warning(line)
		default:
			line = core.Info(line)
		}
		fmt.Fprintln(w, line)
	}

	if rm.Stats.Diverged {
		fmt.Fprintln(w, core.Error(fmt.Sprintf("warning: %d task(s) did not converge within the iteration cap", len(rm.Stats.DivergedIDs))))
	}
}

func addPartnerCommand() *cli.Command {
	return &cli.Command{
		Name:  "add-partner",
		Usage: "add a trade partner to the roster",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: fName, Required: true, Usage: "trade partner name"},
			&cli.StringFlag{Name: "email", Usage: "contact email"},
			&cli.StringFlag{Name: "color", Usage: "display color (#RRGGBB); generated from the name when omitted"},
		},
		Action: func(ctx *cli.Context) error {
			sess, err := openSession(ctx)
			if err != nil {
				return err
			}
			defer sess.close(ctx.Context)

			id := sess.coord.AddTradePartner(taskmodel.TradePartner{
				Name:  ctx.String(fName),
				Email: ctx.String("email"),
				Color: ctx.String("color"),
			})
			fmt.Fprintln(ctx.App.Writer, core.Success(fmt.Sprintf("added trade partner %s (%s)", ctx.String(fName), id)))
			return nil
		},
	}
}

func partnersCommand() *cli.Command {
	return &cli.Command{
		Name:  "partners",
		Usage: "list trade partners",
		Action: func(ctx *cli.Context) error {
			sess, err := openSession(ctx)
			if err != nil {
				return err
			}
			defer sess.close(ctx.Context)

			rm := sess.coord.ReadModel()
			if len(rm.TradePartners) == 0 {
				fmt.Fprintln(ctx.App.Writer, core.DimText("no trade partners"))
				return nil
			}
			for _, p := range rm.TradePartners {
				fmt.Fprintf(ctx.App.Writer, "  %s %-24s %-28s %s\n",
					core.ColorSwatch(p.Color), p.Name, p.Email, core.DimText(p.ID))
			}
			return nil
		},
	}
}

func undoCommand() *cli.Command {
	return &cli.Command{
		Name:  "undo",
		Usage: "undo the most recent mutation",
		Action: func(ctx *cli.Context) error {
			sess, err := openSession(ctx)
			if err != nil {
				return err
			}
			defer sess.close(ctx.Context)

			if !sess.coord.Undo() {
				fmt.Fprintln(ctx.App.Writer, core.Warning("nothing to undo"))
				return nil
			}
			fmt.Fprintln(ctx.App.Writer, core.Success("undone"))
			return nil
		},
	}
}

func redoCommand() *cli.Command {
	return &cli.Command{
		Name:  "redo",
		Usage: "redo the most recently undone mutation",
		Action: func(ctx *cli.Context) error {
			sess, err := openSession(ctx)
			if err != nil {
				return err
			}
			defer sess.close(ctx.Context)

			if !sess.coord.Redo() {
				fmt.Fprintln(ctx.App.Writer, core.Warning("nothing to redo"))
				return nil
			}
			fmt.Fprintln(ctx.App.Writer, core.Success("redone"))
			return nil
		},
	}
}
