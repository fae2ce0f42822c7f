package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/alitto/pond"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/neomodnet/neodb"
)

// toastPrinter surfaces engine notifications on the terminal.
type toastPrinter struct{}

func (toastPrinter) AddToast(msg string)        { fmt.Fprintln(os.Stderr, "!!", msg) }
func (toastPrinter) AddNotification(msg string) { fmt.Fprintln(os.Stderr, "--", msg) }

func openDatabase(cfgPath string, verbose bool) (*neodb.Database, error) {
	cfg, err := neodb.LoadConfig(cfgPath)
	if err != nil {
		return nil, err
	}

	zcfg := zap.NewProductionConfig()
	if verbose {
		zcfg = zap.NewDevelopmentConfig()
	}
	logger, err := zcfg.Build()
	if err != nil {
		return nil, err
	}

	return neodb.New(&neodb.Options{
		Config:   cfg,
		Logger:   logger.Sugar(),
		Notifier: toastPrinter{},
	})
}

// runLoad drives a full load to completion, ticking the raw scanner the way
// the application frame loop would.
func runLoad(ctx context.Context, db *neodb.Database) error {
	db.Load()
	for !db.IsFinished() {
		select {
		case <-ctx.Done():
			db.Cancel()
			return ctx.Err()
		case <-time.After(16 * time.Millisecond):
			db.Update()
		}
	}
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	app := &cli.App{
		Name:  "neodb",
		Usage: "beatmap/score database engine tool",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Value: "neodb.toml",
				Usage: "Pathname of the engine config file.",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Development-style logging.",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "load",
				Usage: "Run a full load and print a catalog summary.",
				Action: func(cCtx *cli.Context) error {
					db, err := openDatabase(cCtx.String("config"), cCtx.Bool("verbose"))
					if err != nil {
						return err
					}
					defer db.Close()

					if err := runLoad(ctx, db); err != nil {
						return err
					}

					diffs := 0
					for _, set := range db.BeatmapSets() {
						diffs += len(set.Difficulties)
					}
					fmt.Printf("%d sets, %d difficulties, %d collections\n",
						len(db.BeatmapSets()), diffs, len(db.Collections()))
					return nil
				},
			},
			{
				Name:      "import",
				Usage:     "Sniff and import external database files, then save.",
				ArgsUsage: "<db-file>...",
				Action: func(cCtx *cli.Context) error {
					db, err := openDatabase(cCtx.String("config"), cCtx.Bool("verbose"))
					if err != nil {
						return err
					}
					defer db.Close()

					paths := cCtx.Args().Slice()
					if len(paths) == 0 {
						return fmt.Errorf("nothing to import")
					}

					// stat the candidates concurrently before queueing; bad
					// paths are reported without aborting the rest
					pool := pond.New(4, 0, pond.MinWorkers(2), pond.Context(ctx))
					for _, path := range paths {
						path := path
						pool.Submit(func() {
							if _, err := os.Stat(path); err != nil {
								fmt.Fprintln(os.Stderr, "skipping:", err)
								return
							}
							db.AddPathToImport(path)
						})
					}
					pool.StopAndWait()

					if err := runLoad(ctx, db); err != nil {
						return err
					}
					db.Save()
					return nil
				},
			},
			{
				Name:      "stats",
				Usage:     "Print player statistics as JSON.",
				ArgsUsage: "<player-name>",
				Action: func(cCtx *cli.Context) error {
					db, err := openDatabase(cCtx.String("config"), cCtx.Bool("verbose"))
					if err != nil {
						return err
					}
					defer db.Close()

					if err := runLoad(ctx, db); err != nil {
						return err
					}

					stats := db.CalculatePlayerStats(cCtx.Args().First())
					jsn, err := json.MarshalIndent(stats, "", "    ")
					if err != nil {
						return err
					}
					fmt.Println(string(jsn))
					return nil
				},
			},
			{
				Name:  "save",
				Usage: "Load, then persist the native databases.",
				Action: func(cCtx *cli.Context) error {
					db, err := openDatabase(cCtx.String("config"), cCtx.Bool("verbose"))
					if err != nil {
						return err
					}
					defer db.Close()

					if err := runLoad(ctx, db); err != nil {
						return err
					}
					db.Save()
					return nil
				},
			},
		},
	}

	if err := app.RunContext(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
