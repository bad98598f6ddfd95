package summarize

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/visionscript/capture-service/internal/models"
)

// WordsPerMinute used for reading time estimates
const WordsPerMinute = 200

// ComputeStatistics compares a summary against its original
func ComputeStatistics(original, summary string) models.SummaryStatistics {
	originalWords := len(strings.Fields(original))
	summaryWords := len(strings.Fields(summary))

	reduction := decimal.Zero
	if originalWords > 0 {
		ratio := decimal.NewFromInt(int64(summaryWords)).Div(decimal.NewFromInt(int64(originalWords)))
		reduction = decimal.NewFromInt(1).Sub(ratio).Mul(decimal.NewFromInt(100)).Round(1)
	}

	return models.SummaryStatistics{
		OriginalWordCount:          originalWords,
		SummaryWordCount:           summaryWords,
		ReductionPercentage:        reduction,
		OriginalReadingTimeMinutes: readingMinutes(originalWords),
		SummaryReadingTimeMinutes:  readingMinutes(summaryWords),
	}
}

func readingMinutes(words int) decimal.Decimal {
	return decimal.NewFromInt(int64(words)).Div(decimal.NewFromInt(WordsPerMinute)).Round(1)
}

// StatisticsText renders the block that accompanies exported summaries
func StatisticsText(result *models.SummaryResult) string {
	stats := result.Statistics
	lines := []string{
		fmt.Sprintf("Word Count Reduction: %s%%", stats.ReductionPercentage.StringFixed(1)),
		fmt.Sprintf("Original: %d words (%s min read)", stats.OriginalWordCount, stats.OriginalReadingTimeMinutes.StringFixed(1)),
		fmt.Sprintf("Summary: %d words (%s min read)", stats.SummaryWordCount, stats.SummaryReadingTimeMinutes.StringFixed(1)),
		fmt.Sprintf("Algorithm: %s", result.Algorithm),
		fmt.Sprintf("Type: %s", result.Type),
		fmt.Sprintf("Length: %s", result.Length),
	}
	return strings.Join(lines, "\n")
}
