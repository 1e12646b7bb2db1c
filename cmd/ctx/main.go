// Command ctx drives the core packages end-to-end from a terminal. It is
// the minimal ambient shell needed to exercise packs, artifacts, renders,
// and snapshots — a thin CLI, not a front-end in its own right.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"ctx/blob"
	"ctx/ingest"
	"ctx/metadata"
	"ctx/model"
	"ctx/redact"
	"ctx/render"
	"ctx/source"
	"ctx/tokenest"
)

var (
	md       *metadata.Store
	blobs    *blob.Store
	handlers *source.Registry
	ingester *ingest.Service
	engine   *render.Engine
)

func initStores(dataDir string, gitTimeoutSeconds int) error {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	var err error
	md, err = metadata.Open(filepath.Join(dataDir, "metadata.db"), logger)
	if err != nil {
		return fmt.Errorf("open metadata store: %w", err)
	}
	blobs, err = blob.Open(filepath.Join(dataDir, "blobs"))
	if err != nil {
		return fmt.Errorf("open blob store: %w", err)
	}

	handlers = source.NewRegistry(gitTimeoutSeconds)

	estimator, err := tokenest.New()
	if err != nil {
		return fmt.Errorf("load token estimator: %w", err)
	}
	redactor := redact.New(redact.DefaultCatalog())

	ingester = ingest.New(handlers, md, blobs, estimator)
	engine = render.New(md, blobs, handlers, redactor, estimator, logger)
	return nil
}

func closeStores() error {
	if md != nil {
		return md.Close()
	}
	return nil
}

func main() {
	app := &cli.App{
		Name:  "ctx",
		Usage: "build reproducible context payloads for LLM workflows",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "data-dir",
				Aliases: []string{"d"},
				Value:   ".ctx",
				Usage:   "directory holding the metadata database and blob store",
				EnvVars: []string{"CTX_DATA_DIR"},
			},
			&cli.IntFlag{
				Name:  "git-timeout",
				Value: 10,
				Usage: "timeout in seconds for git diff subprocesses",
			},
		},
		Before: func(c *cli.Context) error {
			return initStores(c.String("data-dir"), c.Int("git-timeout"))
		},
		After: func(c *cli.Context) error {
			return closeStores()
		},
		Commands: []*cli.Command{
			packCommand(),
			artifactCommand(),
			renderCommand(),
			snapshotCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func packCommand() *cli.Command {
	return &cli.Command{
		Name:  "pack",
		Usage: "manage packs",
		Subcommands: []*cli.Command{
			{
				Name:  "create",
				Usage: "create a new pack",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name", Required: true},
					&cli.IntFlag{Name: "budget", Value: model.DefaultPolicy().BudgetTokens, Usage: "budget_tokens"},
				},
				Action: func(c *cli.Context) error {
					policy := model.Policy{BudgetTokens: c.Int("budget"), Ordering: model.OrderingPriorityThenTime}
					pack, err := md.CreatePack(context.Background(), c.String("name"), policy)
					if err != nil {
						return err
					}
					fmt.Printf("created pack %s (%s)\n", pack.Name, pack.ID)
					return nil
				},
			},
			{
				Name:  "list",
				Usage: "list packs",
				Action: func(c *cli.Context) error {
					packs, err := md.ListPacks(context.Background())
					if err != nil {
						return err
					}
					for _, p := range packs {
						fmt.Printf("%s\t%s\tbudget=%d\n", p.ID, p.Name, p.Policy.BudgetTokens)
					}
					return nil
				},
			},
			{
				Name:  "delete",
				Usage: "delete a pack and its memberships",
				Flags: []cli.Flag{&cli.StringFlag{Name: "name", Required: true}},
				Action: func(c *cli.Context) error {
					return md.DeletePack(context.Background(), c.String("name"))
				},
			},
			{
				Name:  "verify",
				Usage: "recompute a pack's render and compare against a snapshot's fingerprint",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name", Required: true},
					&cli.StringFlag{Name: "snapshot", Required: true, Usage: "snapshot id to compare against"},
				},
				Action: verifyAction,
			},
		},
	}
}

// verifyAction implements the supplemental "ctx pack verify" operation:
// pure composition of render() and GetSnapshot, no new core primitive.
func verifyAction(c *cli.Context) error {
	ctx := context.Background()
	pack, err := md.GetPack(ctx, c.String("name"))
	if err != nil {
		return err
	}
	snap, err := md.GetSnapshot(ctx, c.String("snapshot"))
	if err != nil {
		return err
	}

	result, err := engine.Render(ctx, pack.ID, nil)
	if err != nil {
		return err
	}

	if result.RenderFingerprint == snap.RenderFingerprint {
		fmt.Println("OK: render_fingerprint matches snapshot")
		return nil
	}
	fmt.Printf("DRIFT: current render_fingerprint %s differs from snapshot %s\n",
		result.RenderFingerprint, snap.RenderFingerprint)
	return nil
}

func artifactCommand() *cli.Command {
	return &cli.Command{
		Name:  "artifact",
		Usage: "manage pack membership",
		Subcommands: []*cli.Command{
			{
				Name:  "add",
				Usage: "add an artifact to a pack",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "pack", Required: true},
					&cli.StringFlag{Name: "uri", Required: true, Usage: "source URI, e.g. file:./a.go, md_dir:./docs, glob:**/*.go, git:diff"},
					&cli.IntFlag{Name: "priority", Value: 0},
					&cli.BoolFlag{Name: "recursive"},
					&cli.IntFlag{Name: "max-files", Usage: "0 means unlimited"},
					&cli.StringSliceFlag{Name: "exclude", Usage: "glob(s) to exclude (CollectionMdDir)"},
					&cli.StringSliceFlag{Name: "deny", Usage: "glob(s) denylisted at add time"},
					&cli.StringFlag{Name: "base", Usage: "GitDiff base ref"},
					&cli.StringFlag{Name: "head", Usage: "GitDiff head ref"},
				},
				Action: func(c *cli.Context) error {
					ctx := context.Background()
					pack, err := md.GetPack(ctx, c.String("pack"))
					if err != nil {
						return err
					}

					opts := source.Options{
						Recursive: c.Bool("recursive"),
						Exclude:   c.StringSlice("exclude"),
						Base:      c.String("base"),
						Head:      c.String("head"),
					}
					if max := c.Int("max-files"); max > 0 {
						opts.MaxFiles = &max
					}

					id, err := ingester.AddArtifact(ctx, pack.ID, c.String("uri"), c.Int("priority"), opts, c.StringSlice("deny"))
					if err != nil {
						return err
					}
					fmt.Printf("added artifact %s\n", id)
					return nil
				},
			},
			{
				Name:  "remove",
				Usage: "remove an artifact from a pack",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "pack", Required: true},
					&cli.StringFlag{Name: "id", Required: true},
				},
				Action: func(c *cli.Context) error {
					ctx := context.Background()
					pack, err := md.GetPack(ctx, c.String("pack"))
					if err != nil {
						return err
					}
					return md.RemoveArtifact(ctx, pack.ID, c.String("id"))
				},
			},
			{
				Name:  "list",
				Usage: "list a pack's artifacts in canonical order",
				Flags: []cli.Flag{&cli.StringFlag{Name: "pack", Required: true}},
				Action: func(c *cli.Context) error {
					ctx := context.Background()
					pack, err := md.GetPack(ctx, c.String("pack"))
					if err != nil {
						return err
					}
					artifacts, err := md.ListPackArtifacts(ctx, pack.ID)
					if err != nil {
						return err
					}
					for _, a := range artifacts {
						fmt.Printf("%s\tpri=%d\t%s\n", a.Artifact.ID, a.Membership.Priority, a.Artifact.SourceURI)
					}
					return nil
				},
			},
		},
	}
}

func renderCommand() *cli.Command {
	return &cli.Command{
		Name:  "render",
		Usage: "render a pack to a budgeted, redacted, fingerprinted payload",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "pack", Required: true},
			&cli.IntFlag{Name: "budget", Usage: "override the pack's stored budget_tokens for this render"},
			&cli.BoolFlag{Name: "json", Usage: "print a JSON summary instead of the raw payload"},
		},
		Action: func(c *cli.Context) error {
			ctx := context.Background()
			pack, err := md.GetPack(ctx, c.String("pack"))
			if err != nil {
				return err
			}

			var override *model.Policy
			if c.IsSet("budget") {
				p := pack.Policy
				p.BudgetTokens = c.Int("budget")
				override = &p
			}

			result, err := engine.Render(ctx, pack.ID, override)
			if err != nil {
				return err
			}

			if c.Bool("json") {
				summary := map[string]any{
					"budget_tokens":       result.BudgetTokens,
					"total_tokens":        result.TotalTokens,
					"included":            len(result.Included),
					"excluded":            len(result.Excluded),
					"render_fingerprint":  result.RenderFingerprint,
					"payload_fingerprint": result.PayloadFingerprint,
				}
				enc, err := json.MarshalIndent(summary, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(enc))
				return nil
			}

			fmt.Print(result.PayloadText)
			return nil
		},
	}
}

func snapshotCommand() *cli.Command {
	return &cli.Command{
		Name:  "snapshot",
		Usage: "fix a render as an immutable, reproducible artifact",
		Subcommands: []*cli.Command{
			{
				Name:  "create",
				Usage: "render a pack and persist the result as a snapshot",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "pack", Required: true},
					&cli.StringFlag{Name: "label"},
					&cli.BoolFlag{Name: "record-membership", Usage: "also persist the included set to snapshot_items"},
					&cli.BoolFlag{Name: "store-payload", Usage: "persist the payload text into the blob store, keyed by payload_fingerprint"},
				},
				Action: func(c *cli.Context) error {
					ctx := context.Background()
					pack, err := md.GetPack(ctx, c.String("pack"))
					if err != nil {
						return err
					}

					result, err := engine.Render(ctx, pack.ID, nil)
					if err != nil {
						return err
					}

					if c.Bool("store-payload") {
						if _, err := blobs.Put(ctx, []byte(result.PayloadText)); err != nil {
							return fmt.Errorf("persist payload: %w", err)
						}
					}

					snap := model.Snapshot{
						ID:                 newSnapshotID(),
						PackID:             pack.ID,
						Label:              c.String("label"),
						RenderFingerprint:  result.RenderFingerprint,
						PayloadFingerprint: result.PayloadFingerprint,
						CreatedAt:          snapshotCreatedAt(),
					}

					var included []string
					for _, a := range result.Included {
						included = append(included, a.ID)
					}

					if err := md.CreateSnapshot(ctx, snap, included, c.Bool("record-membership")); err != nil {
						return err
					}
					fmt.Printf("created snapshot %s (render=%s payload=%s)\n", snap.ID, snap.RenderFingerprint, snap.PayloadFingerprint)
					return nil
				},
			},
			{
				Name:  "get",
				Usage: "look up a snapshot by id",
				Flags: []cli.Flag{&cli.StringFlag{Name: "id", Required: true}},
				Action: func(c *cli.Context) error {
					snap, err := md.GetSnapshot(context.Background(), c.String("id"))
					if err != nil {
						return err
					}
					enc, err := json.MarshalIndent(snap, "", "  ")
					if err != nil {
						return err
					}
					fmt.Println(string(enc))
					return nil
				},
			},
		},
	}
}
