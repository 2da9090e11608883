// Command newsmith is the CLI for the news engine: run the daily digest,
// browse topics, and read generated articles.
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dverney/newsmith"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:   "newsmith",
		Short: "Personal news engine",
		Long:  "Ingests news from configured sources, groups it into daily topics and writes full articles on demand.",
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "newsmith.yaml", "path to config file")

	rootCmd.AddCommand(digestCmd())
	rootCmd.AddCommand(topicsCmd())
	rootCmd.AddCommand(articleCmd())
	rootCmd.AddCommand(invalidateCmd())
	rootCmd.AddCommand(sourcesCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// withEngine loads config, opens the engine, runs fn and closes it.
func withEngine(fn func(*newsmith.Engine) error) error {
	cfg, err := newsmith.LoadConfig(configPath)
	if err != nil {
		return err
	}
	engine, err := newsmith.NewEngine(cfg)
	if err != nil {
		return err
	}
	defer engine.Close()
	return fn(engine)
}

func digestCmd() *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "digest",
		Short: "Run the daily pipeline: discover, dedup, extract, group",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(engine *newsmith.Engine) error {
				summary, err := engine.RunDigest(cmd.Context(), date)
				if err != nil {
					return err
				}
				fmt.Printf("Digest for %s\n", summary.Date)
				fmt.Printf("  sources:    %d (%d errored)\n", summary.SourcesTotal, summary.SourcesErrored)
				fmt.Printf("  candidates: %d (%d duplicates dropped)\n", summary.Candidates, summary.DuplicatesDropped)
				fmt.Printf("  ingested:   %d (%d extraction failures)\n", summary.ArticlesIngested, summary.ExtractionFailures)
				fmt.Printf("  topics:     %d\n", summary.TopicsCreated)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "digest date (YYYY-MM-DD, default today)")
	return cmd
}

func topicsCmd() *cobra.Command {
	var date, tag string
	var limit int
	cmd := &cobra.Command{
		Use:   "topics",
		Short: "List a day's topics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(engine *newsmith.Engine) error {
				var cursor int64
				for {
					topics, next, err := engine.Topics(date, cursor, limit, tag)
					if err != nil {
						return err
					}
					for _, t := range topics {
						marker := " "
						if t.TopicType == "hot" {
							marker = "*"
						}
						line := fmt.Sprintf("%s [%d] %s (%.2f, %d sources)", marker, t.ID, t.Headline, t.RelevanceScore, t.SourceCount)
						if len(t.Tags) > 0 {
							line += "  #" + strings.Join(t.Tags, " #")
						}
						fmt.Println(line)
					}
					if next == 0 {
						return nil
					}
					cursor = next
				}
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "date to list (YYYY-MM-DD, default today)")
	cmd.Flags().StringVar(&tag, "tag", "", "only topics carrying this tag")
	cmd.Flags().IntVar(&limit, "limit", 50, "page size")
	return cmd
}

func articleCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "article <topic-id>",
		Short: "Print the generated article for a topic, writing it first if needed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			topicID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid topic id %q", args[0])
			}
			return withEngine(func(engine *newsmith.Engine) error {
				_, err := engine.Article(cmd.Context(), topicID, force, func(chunk string) error {
					_, err := fmt.Print(chunk)
					return err
				})
				if err != nil {
					return err
				}
				fmt.Println()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "regenerate even when a cached article exists")
	return cmd
}

func invalidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "invalidate <topic-id>",
		Short: "Drop a topic's cached article so the next read regenerates it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			topicID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid topic id %q", args[0])
			}
			return withEngine(func(engine *newsmith.Engine) error {
				if err := engine.InvalidateArticle(topicID); err != nil {
					return err
				}
				fmt.Printf("Invalidated cached article for topic %d\n", topicID)
				return nil
			})
		},
	}
}

func sourcesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sources",
		Short: "Manage discovery sources",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List configured sources",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(engine *newsmith.Engine) error {
				srcs, err := engine.Sources()
				if err != nil {
					return err
				}
				for _, s := range srcs {
					state := "enabled"
					if !s.Enabled {
						state = "disabled"
					}
					fmt.Printf("[%d] %-8s %-10s %s  %s\n", s.ID, s.Type, state, s.Name, s.URL)
					if s.LastError != nil {
						fmt.Printf("      last error: %s\n", *s.LastError)
					}
				}
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "add <type> <name> <url>",
		Short: "Add a source (type: feed, ranked or search)",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(engine *newsmith.Engine) error {
				id, err := engine.AddSource(args[0], args[1], args[2])
				if err != nil {
					return err
				}
				fmt.Printf("Added source %d: %s\n", id, args[1])
				return nil
			})
		},
	})

	cmd.AddCommand(setEnabledCmd("enable", true))
	cmd.AddCommand(setEnabledCmd("disable", false))
	return cmd
}

func setEnabledCmd(name string, enabled bool) *cobra.Command {
	short := "Enable a source"
	if !enabled {
		short = "Disable a source"
	}
	return &cobra.Command{
		Use:   name + " <source-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sourceID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid source id %q", args[0])
			}
			return withEngine(func(engine *newsmith.Engine) error {
				if err := engine.SetSourceEnabled(sourceID, enabled); err != nil {
					return err
				}
				fmt.Printf("Source %d %sd\n", sourceID, name)
				return nil
			})
		},
	}
}
