package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/eduscribe/eduscribe/pkg/corpus"
)

var (
	ingestLecture string
	ingestSource  string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>",
	Short: "Add a course document to a lecture's corpus",
	Long: `Ingest reads a plain-text document, splits it into chunks, embeds
them, and stores them so retrieval can pull supporting context while
that lecture is live.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if ingestLecture == "" {
			return fmt.Errorf("the --lecture flag is required")
		}
		cfg := getConfig()

		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read document: %w", err)
		}
		source := ingestSource
		if source == "" {
			source = filepath.Base(args[0])
		}

		db, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		store := corpus.NewStore(db, newEmbedder(cfg))
		n, err := store.Ingest(cmd.Context(), ingestLecture, source, string(data))
		if err != nil {
			return err
		}

		fmt.Println(styles.Label.Render("ingested"),
			fmt.Sprintf("%d chunks from %s into lecture %s", n, source, ingestLecture))
		return nil
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestLecture, "lecture", "", "lecture id the document belongs to")
	ingestCmd.Flags().StringVar(&ingestSource, "source", "", "source label (default: file name)")
}
