// cmd/tusk/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"tusk/client"
	"tusk/internal/api"
	"tusk/internal/commits"
	"tusk/internal/config"
	"tusk/internal/logging"
	"tusk/internal/objects"
	"tusk/internal/refs"
	"tusk/internal/remote"
	"tusk/internal/stage"
	tusksync "tusk/internal/sync"
	"tusk/internal/tree"
	"tusk/internal/workspace"
)

var rootCmd = &cobra.Command{
	Use:   "tusk",
	Short: "Tusk is a version control system for datasets",
	Long: `Tusk versions large datasets the way git versions code: content-addressed
storage, cheap branching, and a sync protocol that never re-sends data the
other side already has.`,
	SilenceUsage: true,
}

func init() {
	var initCmd = &cobra.Command{
		Use:   "init",
		Short: "Initialize a new Tusk repository",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("getting current directory: %w", err)
			}

			w, err := workspace.Init(dir, newCLILogger())
			if err != nil {
				return err
			}
			defer w.Close()

			fmt.Println("Initialized empty Tusk repository in", dir)
			return nil
		},
	}

	var statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show staged and unstaged changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := openWorkspace()
			if err != nil {
				return err
			}
			defer w.Close()

			branch, _, err := w.Head()
			if err != nil {
				return err
			}

			staged, unstaged, err := w.Status(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Printf("On branch %s\n", branch)
			if len(staged) == 0 && len(unstaged) == 0 {
				fmt.Println("Nothing to commit (working tree clean)")
				return nil
			}

			green := color.New(color.FgGreen).SprintFunc()
			red := color.New(color.FgRed).SprintFunc()
			yellow := color.New(color.FgYellow).SprintFunc()

			if len(staged) > 0 {
				fmt.Println("\nChanges to be committed:")
				fmt.Println("  (use \"tusk restore --staged <file>...\" to unstage)")
				for _, e := range staged {
					switch e.Status {
					case stage.StatusRemoved:
						fmt.Printf("\t%s %s\n", red("D"), e.Path)
					case stage.StatusModified:
						fmt.Printf("\t%s %s\n", yellow("M"), e.Path)
					default:
						fmt.Printf("\t%s %s\n", green("A"), e.Path)
					}
				}
			}

			if len(unstaged) > 0 {
				fmt.Println("\nChanges not staged for commit:")
				fmt.Println("  (use \"tusk stage <file>...\" to include in next commit)")
				for _, c := range unstaged {
					switch c.Kind {
					case tree.Removed:
						fmt.Printf("\t%s %s\n", red("D"), c.Path)
					case tree.Modified:
						fmt.Printf("\t%s %s\n", yellow("M"), c.Path)
					default:
						fmt.Printf("\t%s %s\n", green("?"), c.Path)
					}
				}
			}
			fmt.Println()
			return nil
		},
	}

	var stageCmd = &cobra.Command{
		Use:   "stage [paths...]",
		Short: "Stage changes for the next commit",
		Long:  `Stages the specified paths. Use '.' to stage everything.`,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := openWorkspace()
			if err != nil {
				return err
			}
			defer w.Close()

			staged, err := w.Stage(cmd.Context(), args)
			if err != nil {
				return err
			}
			fmt.Printf("Staged %d change(s)\n", len(staged))
			return nil
		},
	}

	var unstageCmd = &cobra.Command{
		Use:   "unstage [paths...]",
		Short: "Remove paths from the staging index",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := openWorkspace()
			if err != nil {
				return err
			}
			defer w.Close()

			n, err := w.Unstage(args)
			if err != nil {
				return err
			}
			fmt.Printf("Unstaged %d change(s)\n", n)
			return nil
		},
	}

	var commitCmd = &cobra.Command{
		Use:   "commit",
		Short: "Record staged changes as a new commit",
		RunE: func(cmd *cobra.Command, args []string) error {
			message, _ := cmd.Flags().GetString("message")
			author, _ := cmd.Flags().GetString("author")
			if author == "" {
				author = os.Getenv("USER")
			}

			w, err := openWorkspace()
			if err != nil {
				return err
			}
			defer w.Close()

			c, err := w.Commit(cmd.Context(), message, author)
			if err != nil {
				return err
			}
			fmt.Printf("Created commit %s\n", c.ID[:12])
			return nil
		},
	}
	commitCmd.Flags().StringP("message", "m", "", "Commit message")
	commitCmd.Flags().StringP("author", "a", "", "Commit author")
	commitCmd.MarkFlagRequired("message")

	var logCmd = &cobra.Command{
		Use:   "log",
		Short: "Show commit history of the current branch",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")

			w, err := openWorkspace()
			if err != nil {
				return err
			}
			defer w.Close()

			history, err := w.Log(limit)
			if err != nil {
				return err
			}

			yellow := color.New(color.FgYellow).SprintFunc()
			for _, c := range history {
				fmt.Printf("%s  %s  %s  %s\n",
					yellow(c.ID[:12]),
					c.CreatedAt.Local().Format(time.RFC3339),
					c.Author,
					c.Message,
				)
			}
			return nil
		},
	}
	logCmd.Flags().IntP("limit", "n", 0, "Limit the number of commits shown (0 = all)")

	var restoreCmd = &cobra.Command{
		Use:   "restore [paths...]",
		Short: "Restore working tree files",
		Long: `Restores the specified paths from a commit or branch. With --staged the
paths are removed from the index instead and the files are left alone.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			staged, _ := cmd.Flags().GetBool("staged")
			source, _ := cmd.Flags().GetString("source")

			w, err := openWorkspace()
			if err != nil {
				return err
			}
			defer w.Close()

			n, err := w.Restore(cmd.Context(), args, source, staged)
			if err != nil {
				return err
			}
			if staged {
				fmt.Printf("Unstaged %d change(s)\n", n)
			} else {
				fmt.Printf("Restored %d file(s)\n", n)
			}
			return nil
		},
	}
	restoreCmd.Flags().Bool("staged", false, "Unstage instead of touching the working tree")
	restoreCmd.Flags().StringP("source", "s", "", "Branch or commit to restore from (default HEAD)")

	var branchCmd = &cobra.Command{
		Use:   "branch [name]",
		Short: "List branches or create a new one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := openWorkspace()
			if err != nil {
				return err
			}
			defer w.Close()

			if len(args) == 1 {
				if err := w.CreateBranch(args[0]); err != nil {
					return err
				}
				fmt.Printf("Created branch %s\n", args[0])
				return nil
			}

			current, err := w.Refs.Head()
			if err != nil {
				return err
			}
			branches, err := w.Refs.List()
			if err != nil {
				return err
			}

			green := color.New(color.FgGreen).SprintFunc()
			for _, b := range branches {
				if b.Name == current {
					fmt.Printf("* %s  %s\n", green(b.Name), b.CommitID[:12])
				} else {
					fmt.Printf("  %s  %s\n", b.Name, b.CommitID[:12])
				}
			}
			return nil
		},
	}

	var checkoutCmd = &cobra.Command{
		Use:   "checkout <branch>",
		Short: "Switch to another branch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := openWorkspace()
			if err != nil {
				return err
			}
			defer w.Close()

			if err := w.Checkout(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("Switched to branch %s\n", args[0])
			return nil
		},
	}

	var pushCmd = &cobra.Command{
		Use:   "push <remote-url>",
		Short: "Upload the current branch to a remote",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd.Context(), args[0], cmd, true)
		},
	}
	pushCmd.Flags().StringP("branch", "b", "", "Branch to push (default current)")

	var pullCmd = &cobra.Command{
		Use:   "pull <remote-url>",
		Short: "Download a branch from a remote",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd.Context(), args[0], cmd, false)
		},
	}
	pullCmd.Flags().StringP("branch", "b", "", "Branch to pull (default current)")

	var serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run a Tusk server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")
			return serve(cfgPath)
		},
	}
	serveCmd.Flags().StringP("config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(stageCmd)
	rootCmd.AddCommand(unstageCmd)
	rootCmd.AddCommand(commitCmd)
	rootCmd.AddCommand(logCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(branchCmd)
	rootCmd.AddCommand(checkoutCmd)
	rootCmd.AddCommand(pushCmd)
	rootCmd.AddCommand(pullCmd)
	rootCmd.AddCommand(serveCmd)
}

func newCLILogger() *zap.Logger {
	logger, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func openWorkspace() (*workspace.LocalWorkspace, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("getting current directory: %w", err)
	}
	return workspace.Open(cwd, newCLILogger())
}

func runSync(ctx context.Context, remoteURL string, cmd *cobra.Command, push bool) error {
	w, err := openWorkspace()
	if err != nil {
		return err
	}
	defer w.Close()

	branch, _ := cmd.Flags().GetString("branch")
	if branch == "" {
		branch, err = w.Refs.Head()
		if err != nil {
			return err
		}
	}

	syncer := tusksync.New(tusksync.Repo{
		Objects: w.Objects,
		Commits: w.Commits,
		Refs:    w.Refs,
	}, client.New(remoteURL), w.Logger)

	var stats tusksync.Stats
	if push {
		stats, err = syncer.Push(ctx, branch)
	} else {
		stats, err = syncer.Pull(ctx, branch)
	}
	if err != nil {
		return err
	}

	if stats.Empty() {
		fmt.Println("Already up to date")
		return nil
	}
	fmt.Printf("Transferred %d commit(s), %d tree(s), %d object(s)\n",
		stats.Commits, stats.Trees, stats.Objects)
	return nil
}

func serve(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer logger.Sync()

	for _, dir := range []string{cfg.DBPath(), cfg.ObjectsPath()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}

	opts := badger.DefaultOptions(cfg.DBPath())
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	store, err := objects.NewFileStore(db, objects.Options{Root: cfg.ObjectsPath()})
	if err != nil {
		return fmt.Errorf("opening object store: %w", err)
	}

	commitStore := commits.NewStore(db)
	refStore := refs.NewStore(db)
	if err := bootstrapRepo(store, commitStore, refStore); err != nil {
		return err
	}

	staging := remote.NewStaging(db, store, commitStore, refStore, logger.Logger)
	server := api.NewServer(store, commitStore, refStore, staging, logger)

	logger.Info("starting server", zap.String("address", cfg.Addr()))
	return http.ListenAndServe(cfg.Addr(), server.Handler())
}

// bootstrapRepo gives a brand-new server its default branch with an empty
// initial commit, so clones and staged uploads have something to build on.
func bootstrapRepo(store objects.Store, cs *commits.Store, rs *refs.Store) error {
	if ok, err := rs.Exists(refs.DefaultBranch); err != nil || ok {
		return err
	}

	ctx := context.Background()
	emptyTree := &tree.Node{Entries: []tree.Entry{}}
	rootHash, err := emptyTree.Save(ctx, store)
	if err != nil {
		return fmt.Errorf("storing empty tree: %w", err)
	}

	initial, err := cs.Create(&commits.Commit{
		TreeHash: rootHash,
		Message:  "Initialized repository",
	})
	if err != nil {
		return fmt.Errorf("creating initial commit: %w", err)
	}
	return rs.CompareAndSwap(refs.DefaultBranch, "", initial.ID)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
