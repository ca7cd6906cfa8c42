package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/contextcore/internal/contexts"
	"github.com/fyrsmithlabs/contextcore/internal/retriever"
	"github.com/fyrsmithlabs/contextcore/internal/storage"
)

var (
	addWorkspace string
	addTier      string
	addType      string
	addSource    string
	addTags      []string

	queryWorkspace string
	queryLimit     int
	queryVerbose   bool

	feedbackHelpful bool
	feedbackUsed    bool
	feedbackRating  int
)

var addCmd = &cobra.Command{
	Use:   "add [file]",
	Short: "Add a context from a file or stdin",
	Long: `Add a context to the engine. Content is embedded and indexed for
semantic retrieval.

Examples:
  # Add a file to a workspace
  contextcore add --workspace my-project --type documentation README.md

  # Add from stdin
  git log -1 | contextcore add --workspace my-project --type conversation -`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAdd,
}

var queryCmd = &cobra.Command{
	Use:   "query <text>...",
	Short: "Retrieve contexts matching a query",
	Long: `Retrieve the most relevant contexts for a query, searching workspace,
hybrid, and global tiers in order and re-ranking by semantic similarity,
freshness, usage, and confidence.

Examples:
  contextcore query --workspace my-project "connection pool timeout"
  contextcore query --workspace my-project --limit 5 --verbose "auth flow"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runQuery,
}

var feedbackCmd = &cobra.Command{
	Use:   "feedback <context-id>",
	Short: "Record feedback on a retrieved context",
	Long: `Record whether a retrieved context was helpful. Feedback nudges the
context's confidence, which feeds back into future rankings.

Examples:
  contextcore feedback --helpful 4f2a...
  contextcore feedback --rating 5 4f2a...`,
	Args: cobra.ExactArgs(1),
	RunE: runFeedback,
}

func init() {
	addCmd.Flags().StringVar(&addWorkspace, "workspace", "", "workspace id (required)")
	addCmd.Flags().StringVar(&addTier, "tier", string(contexts.TierWorkspace), "tier: workspace, hybrid, or global")
	addCmd.Flags().StringVar(&addType, "type", string(contexts.TypeDocumentation), "context type")
	addCmd.Flags().StringVar(&addSource, "source", "", "source identifier (file path, URL, ...)")
	addCmd.Flags().StringSliceVar(&addTags, "tag", nil, "tags (repeatable)")
	_ = addCmd.MarkFlagRequired("workspace")

	queryCmd.Flags().StringVar(&queryWorkspace, "workspace", "", "workspace id (required)")
	queryCmd.Flags().IntVar(&queryLimit, "limit", 0, "max results (0 uses the configured default)")
	queryCmd.Flags().BoolVar(&queryVerbose, "verbose", false, "show score breakdown per result")
	_ = queryCmd.MarkFlagRequired("workspace")

	feedbackCmd.Flags().BoolVar(&feedbackHelpful, "helpful", false, "the context was helpful")
	feedbackCmd.Flags().BoolVar(&feedbackUsed, "used", false, "the context was used")
	feedbackCmd.Flags().IntVar(&feedbackRating, "rating", 0, "explicit rating 1-5 (overrides --helpful)")
}

func runAdd(cmd *cobra.Command, args []string) error {
	var content []byte
	var err error

	if len(args) == 0 || args[0] == "-" {
		content, err = io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("failed to read from stdin: %w", err)
		}
	} else {
		content, err = os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read file %s: %w", args[0], err)
		}
		if addSource == "" {
			addSource = args[0]
		}
	}
	if len(content) == 0 {
		return fmt.Errorf("no content to add")
	}

	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	created, err := a.storage.Create(ctx, storage.CreateRequest{
		WorkspaceID:        addWorkspace,
		Tier:               contexts.Tier(addTier),
		Type:               contexts.Type(addType),
		Content:            string(content),
		Metadata:           contexts.Metadata{Source: addSource, Tags: addTags},
		GenerateEmbeddings: true,
		IndexInVectorDB:    true,
	})
	if err != nil {
		return fmt.Errorf("failed to add context: %w", err)
	}

	fmt.Println(created.ID)
	return nil
}

func runQuery(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	query := strings.Join(args, " ")

	result, err := a.retr.Retrieve(ctx, retriever.Request{
		WorkspaceID: queryWorkspace,
		Query:       query,
		Limit:       queryLimit,
	})
	if err != nil {
		return fmt.Errorf("retrieval failed: %w", err)
	}

	if len(result.Contexts) == 0 {
		fmt.Println("No matching contexts.")
		return nil
	}

	for i, sc := range result.Contexts {
		fmt.Printf("%2d. [%.3f] %s  tier=%s type=%s\n",
			i+1, sc.Score, sc.Context.ID, sc.Context.Tier, sc.Context.Type)
		if queryVerbose {
			fmt.Printf("    semantic=%.3f freshness=%.3f usage=%.3f confidence=%.3f\n",
				sc.Breakdown.Semantic, sc.Breakdown.Freshness,
				sc.Breakdown.Usage, sc.Breakdown.Confidence)
		}
		fmt.Printf("    %s\n", snippet(sc.Context.Content, 120))
	}
	fmt.Printf("\n%d of %d candidates in %dms\n",
		len(result.Contexts), result.TotalFound, result.LatencyMs)
	return nil
}

func runFeedback(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	event := contexts.FeedbackEvent{
		ContextID: args[0],
		Helpful:   feedbackHelpful,
		Used:      feedbackUsed,
		Timestamp: time.Now().UTC(),
	}
	if feedbackRating != 0 {
		event.Rating = &feedbackRating
	}

	if err := a.engine.ProcessFeedback(ctx, event); err != nil {
		return fmt.Errorf("failed to record feedback: %w", err)
	}

	fmt.Println("Feedback recorded.")
	return nil
}

// snippet returns the first line of s truncated to max runes.
func snippet(s string, max int) string {
	for i, r := range s {
		if r == '\n' {
			s = s[:i]
			break
		}
	}
	runes := []rune(s)
	if len(runes) > max {
		return string(runes[:max]) + "..."
	}
	return s
}
