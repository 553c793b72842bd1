package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"payment-evidence-backend/internal/logger"
	"payment-evidence-backend/internal/services/extraction"
)

var extractCmd = &cobra.Command{
	Use:   "extract [file]",
	Short: "Extract the payment amount from a local slip",
	Long: `Run amount extraction over a local file the same way the collector does
for attachments. PDFs and images need FEATURE_OCR and Google Cloud
credentials; text files are read directly.`,
	Example: `  payment-evidence extract slip.pdf
  payment-evidence extract transfer.png --text
  payment-evidence extract notice.txt --json`,
	Args: cobra.ExactArgs(1),
	RunE: runExtract,
}

// ExtractOutput is printed with --json.
type ExtractOutput struct {
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
	Found       bool   `json:"found"`
	Amount      string `json:"amount,omitempty"`
	Currency    string `json:"currency,omitempty"`
	Text        string `json:"text,omitempty"`
}

func init() {
	rootCmd.AddCommand(extractCmd)
	extractCmd.Flags().Bool("json", false, "Output as JSON")
	extractCmd.Flags().Bool("text", false, "Include the extracted text")
	extractCmd.Flags().Duration("timeout", 2*time.Minute, "Processing timeout")
}

func runExtract(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("extract")
	jsonOutput, _ := cmd.Flags().GetBool("json")
	withText, _ := cmd.Flags().GetBool("text")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	path := args[0]
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	extractor, done, err := newExtractor(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := done(); err != nil {
			log.Warn().Err(err).Msg("Failed to close OCR clients")
		}
	}()

	out := ExtractOutput{
		FileName:    filepath.Base(path),
		ContentType: extraction.ContentTypeFor("", path),
	}

	text, err := extractor.Text(ctx, data, out.ContentType)
	if err != nil {
		return fmt.Errorf("failed to read text from %s: %w", out.FileName, err)
	}
	if amount, ok := extraction.AmountFromText(text); ok {
		out.Found = true
		out.Amount = amount.Value.StringFixed(2)
		out.Currency = amount.Currency
	}
	if withText {
		out.Text = text
	}

	log.Info().Str("file", out.FileName).Bool("found", out.Found).Msg("Extraction finished")

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	if !out.Found {
		fmt.Fprintf(cmd.OutOrStdout(), "%s: no amount found\n", out.FileName)
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s %s\n", out.FileName, out.Currency, out.Amount)
	}
	if withText {
		fmt.Fprintln(cmd.OutOrStdout(), "---")
		fmt.Fprintln(cmd.OutOrStdout(), text)
	}
	return nil
}
