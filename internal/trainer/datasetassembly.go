package trainer

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/makr-code/loraforge/internal/domain"
	"github.com/makr-code/loraforge/internal/providers"
)

// QualityScorer optionally re-scores a document's suitability for
// inclusion in a fine-tuning dataset, superseding the search result's own
// QualityScore. A consumer-defined interface (rather than importing
// internal/llm directly) so DatasetAssembly stays usable with no LLM
// configured at all — the zero value of this field is nil, and Run
// falls back to each SearchResult.QualityScore untouched.
type QualityScorer interface {
	ScoreQuality(ctx context.Context, text string, fallback float64) float64
}

// datasetAssemblyTrainer gathers candidate documents through an optional
// SearchProvider (falling back to an ordered filesystem read when none is
// configured), scores them, and writes one export file per
// domain.DatasetExportFormat under exportRoot.
type datasetAssemblyTrainer struct {
	search     providers.SearchProvider
	scorer     QualityScorer
	exportRoot string
	stepWork   time.Duration
}

// NewDatasetAssembly returns the DatasetAssembly trainerKind Adapter.
// search may be nil, in which case datasetRef is treated as a filesystem
// directory to read documents from. scorer may be nil, in which case each
// SearchResult's own QualityScore is used unmodified.
func NewDatasetAssembly(search providers.SearchProvider, scorer QualityScorer, exportRoot string, stepWork time.Duration) Adapter {
	return &datasetAssemblyTrainer{search: search, scorer: scorer, exportRoot: exportRoot, stepWork: stepWork}
}

func (t *datasetAssemblyTrainer) Validate(configRef, datasetRef string) error {
	if configRef == "" {
		return domain.NewError(domain.ErrKindInvalidConfig, "configRef is required")
	}
	// datasetRef is optional for DatasetAssembly: absent means "rely
	// entirely on the search provider".
	return nil
}

func (t *datasetAssemblyTrainer) Run(ctx context.Context, configRef, datasetRef string, report Reporter) Result {
	search := t.search
	if search == nil {
		if datasetRef == "" {
			return Result{Err: domain.NewError(domain.ErrKindInvalidConfig, "no search provider and no datasetRef fallback")}
		}
		search = providers.NewFilesystemSearch(datasetRef)
	}

	results, err := search.Search(ctx, configRef)
	if err != nil {
		return Result{Err: domain.WrapError(domain.ErrKindInternal, "searching documents", err)}
	}

	progress := domain.Progress{EpochsTotal: 1, StepsTotal: len(results) + 1}
	records := make([]domain.DatasetRecord, 0, len(results))
	var qualitySum float64
	var totalTokens int

	lastReport := time.Now()
	for i, r := range results {
		select {
		case <-ctx.Done():
			return Result{Cancelled: true}
		case <-time.After(t.stepWork):
		}

		records = append(records, domain.DatasetRecord{
			ID:   r.DocumentID,
			Text: r.Content,
			Meta: r.Metadata,
		})
		quality := r.QualityScore
		if t.scorer != nil {
			quality = t.scorer.ScoreQuality(ctx, r.Content, r.QualityScore)
		}
		qualitySum += quality
		totalTokens += approximateTokens(r.Content)
		progress.StepsDone = i + 1

		if time.Since(lastReport) >= time.Second {
			progress.UpdatedAt = time.Now()
			report(progress)
			lastReport = time.Now()
		}
	}

	datasetID := configRef
	descriptor := domain.DatasetDescriptor{
		DatasetID:     datasetID,
		Name:          datasetID,
		DocumentCount: len(records),
		TotalTokens:   totalTokens,
		Exports:       make(map[domain.DatasetExportFormat]string),
	}
	if len(records) > 0 {
		descriptor.QualityScoreMean = qualitySum / float64(len(records))
	}

	exports, err := t.writeExports(datasetID, records)
	if err != nil {
		return Result{Err: domain.WrapError(domain.ErrKindInternal, "writing dataset exports", err)}
	}
	descriptor.Exports = exports

	descriptorPath, err := t.writeDescriptor(datasetID, descriptor)
	if err != nil {
		return Result{Err: domain.WrapError(domain.ErrKindInternal, "writing dataset descriptor", err)}
	}

	progress.EpochsDone = 1
	progress.StepsDone = progress.StepsTotal
	progress.UpdatedAt = time.Now()
	report(progress)

	artifacts := make(map[string]string, len(exports)+1)
	for format, path := range exports {
		artifacts[string(format)] = path
	}
	artifacts["descriptor"] = descriptorPath
	return Result{ArtifactRefs: artifacts}
}

// writeDescriptor serialises descriptor (documentCount, totalTokens,
// qualityScoreMean, and the export paths) alongside the export files, so
// the dataset's summary statistics are observable as an artifact rather
// than discarded once Run returns.
func (t *datasetAssemblyTrainer) writeDescriptor(datasetID string, descriptor domain.DatasetDescriptor) (string, error) {
	path := filepath.Join(t.exportRoot, datasetID+".descriptor.json")
	b, err := json.Marshal(descriptor)
	if err != nil {
		return "", err
	}
	if err := providers.WriteLines(path, []string{string(b)}); err != nil {
		return "", err
	}
	return path, nil
}

func (t *datasetAssemblyTrainer) writeExports(datasetID string, records []domain.DatasetRecord) (map[domain.DatasetExportFormat]string, error) {
	out := make(map[domain.DatasetExportFormat]string, 3)

	jsonlPath := filepath.Join(t.exportRoot, datasetID+".jsonl")
	lines := make([]string, 0, len(records))
	for _, rec := range records {
		b, err := json.Marshal(rec)
		if err != nil {
			return nil, err
		}
		lines = append(lines, string(b))
	}
	if err := providers.WriteLines(jsonlPath, lines); err != nil {
		return nil, err
	}
	out[domain.ExportLineDelimitedJSON] = jsonlPath

	csvPath := filepath.Join(t.exportRoot, datasetID+".csv")
	csvLines := make([]string, 0, len(records)+1)
	csvLines = append(csvLines, "id,text")
	for _, rec := range records {
		csvLines = append(csvLines, fmt.Sprintf("%s,%q", rec.ID, strings.ReplaceAll(rec.Text, "\n", " ")))
	}
	if err := providers.WriteLines(csvPath, csvLines); err != nil {
		return nil, err
	}
	out[domain.ExportCommaSeparated] = csvPath

	columnarPath := filepath.Join(t.exportRoot, datasetID+".columnar.json")
	ids := make([]string, len(records))
	texts := make([]string, len(records))
	for i, rec := range records {
		ids[i] = rec.ID
		texts[i] = rec.Text
	}
	columnar, err := json.Marshal(map[string]any{"id": ids, "text": texts})
	if err != nil {
		return nil, err
	}
	if err := providers.WriteLines(columnarPath, []string{string(columnar)}); err != nil {
		return nil, err
	}
	out[domain.ExportColumnar] = columnarPath

	return out, nil
}

// approximateTokens is a cheap whitespace-based token count, sufficient
// for the dataset descriptor's summary statistics without pulling in a
// real tokenizer dependency.
func approximateTokens(text string) int {
	return len(strings.Fields(text))
}
