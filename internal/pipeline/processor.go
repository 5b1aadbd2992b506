package pipeline

import (
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/sensemaker/backend/internal/jobs"
	"github.com/sensemaker/backend/internal/logger"
	"github.com/sensemaker/backend/internal/repos"
	"github.com/sensemaker/backend/internal/types"
)

// Progress checkpoints written at stage entry. COMPLETE lands at 100 via the
// terminal write. Values match what clients already expect from the job API.
const (
	checkpointParse      = 5
	checkpointTopics     = 30
	checkpointCategorize = 60
	checkpointSummary    = 90
)

// Output is the report's final artifact, persisted as report.output_json
// and as the job result.
type Output struct {
	CommentCount int           `json:"commentCount"`
	Topics       []Topic       `json:"topics"`
	Summary      []SummaryNode `json:"summary"`
}

type Config struct {
	Log      *logger.Logger
	Reports  repos.ReportRepo
	Comments repos.CommentRepo
	Source   Source
	// Optional strategy overrides; nil picks the reference heuristics.
	Learner     TopicLearner
	Categorizer Categorizer
	Summarizer  Summarizer
}

// Processor runs the sensemaking pipeline for one claimed job: parse the
// CSV, learn topics, categorize comments, generate the summary, then
// finalize job and report. Cancellation is honored at stage boundaries
// only; a stage that started always finishes.
type Processor struct {
	log         *logger.Logger
	reports     repos.ReportRepo
	comments    repos.CommentRepo
	source      Source
	learner     TopicLearner
	categorizer Categorizer
	summarizer  Summarizer
}

func NewProcessor(cfg Config) *Processor {
	p := &Processor{
		log:         cfg.Log.With("component", "SensemakingProcessor"),
		reports:     cfg.Reports,
		comments:    cfg.Comments,
		source:      cfg.Source,
		learner:     cfg.Learner,
		categorizer: cfg.Categorizer,
		summarizer:  cfg.Summarizer,
	}
	if p.source == nil {
		p.source = NewPayloadSource()
	}
	if p.learner == nil {
		p.learner = NewLabelTopicLearner()
	}
	if p.categorizer == nil {
		p.categorizer = NewFirstTopicCategorizer()
	}
	if p.summarizer == nil {
		p.summarizer = NewHeuristicSummarizer()
	}
	return p
}

func (p *Processor) Type() string { return types.JobTypeSensemaking }

func (p *Processor) Run(ec *jobs.Execution) error {
	ctx := ec.Context()
	job := ec.Job()

	report, err := p.reports.GetByID(ctx, job.ReportID)
	if err != nil {
		ec.Fail(types.JobStageParsingCSV, err)
		return nil
	}
	if err := p.reports.SetStatus(ctx, report.ID, types.ReportStatusProcessing); err != nil {
		p.log.Warn("Failed to mark report processing", "report_id", report.ID, "error", err)
	}

	if err := ec.Progress(types.JobStageParsingCSV, checkpointParse); err != nil {
		return halt(err)
	}
	raw, err := p.source.Fetch(ctx, job)
	if err != nil {
		return p.fail(ec, report.ID, types.JobStageParsingCSV, err)
	}
	comments, err := ParseComments(raw)
	if err != nil {
		return p.fail(ec, report.ID, types.JobStageParsingCSV, err)
	}

	if err := ec.Progress(types.JobStageLearningTopics, checkpointTopics); err != nil {
		return halt(err)
	}
	topics, err := p.learner.LearnTopics(ctx, comments)
	if err != nil {
		return p.fail(ec, report.ID, types.JobStageLearningTopics, err)
	}

	if err := ec.Progress(types.JobStageCategorizingComments, checkpointCategorize); err != nil {
		return halt(err)
	}
	categorized, err := p.categorizer.Categorize(ctx, comments, topics)
	if err != nil {
		return p.fail(ec, report.ID, types.JobStageCategorizingComments, err)
	}
	if err := p.comments.ReplaceForReport(ctx, report.ID, commentRows(report.ID, categorized)); err != nil {
		return p.fail(ec, report.ID, types.JobStageCategorizingComments, err)
	}

	if err := ec.Progress(types.JobStageGeneratingSummary, checkpointSummary); err != nil {
		return halt(err)
	}
	summary, err := p.summarizer.Summarize(ctx, categorized, topics)
	if err != nil {
		return p.fail(ec, report.ID, types.JobStageGeneratingSummary, err)
	}

	output := Output{
		CommentCount: len(categorized),
		Topics:       topics,
		Summary:      summary,
	}

	// The job's terminal write is the commit point; a cancellation that won
	// the race leaves the report untouched.
	if err := ec.Succeed(output); err != nil {
		return halt(err)
	}
	p.finalizeReport(ec, report.ID, output)
	return nil
}

func (p *Processor) finalizeReport(ec *jobs.Execution, reportID uuid.UUID, output Output) {
	ctx := ec.Context()
	if topicsJSON, err := json.Marshal(output.Topics); err == nil {
		if err := p.reports.SetTopics(ctx, reportID, datatypes.JSON(topicsJSON)); err != nil {
			p.log.Warn("Failed to persist report topics", "report_id", reportID, "error", err)
		}
	}
	if outputJSON, err := json.Marshal(output); err == nil {
		if err := p.reports.SetOutput(ctx, reportID, datatypes.JSON(outputJSON)); err != nil {
			p.log.Warn("Failed to persist report output", "report_id", reportID, "error", err)
		}
	}
	if err := p.reports.SetStatus(ctx, reportID, types.ReportStatusCompleted); err != nil {
		p.log.Warn("Failed to mark report completed", "report_id", reportID, "error", err)
	}
}

// fail marks job and report failed. The error reaches clients verbatim
// through the job row, so messages stay descriptive and free of internals.
func (p *Processor) fail(ec *jobs.Execution, reportID uuid.UUID, stage types.JobStage, stageErr error) error {
	ec.Fail(stage, stageErr)
	if err := p.reports.SetStatus(ec.Context(), reportID, types.ReportStatusFailed); err != nil {
		p.log.Warn("Failed to mark report failed", "report_id", reportID, "error", err)
	}
	return nil
}

// halt swallows ErrHalted: a cancelled job is a clean stop, anything else
// bubbles to the worker's safety net.
func halt(err error) error {
	if errors.Is(err, jobs.ErrHalted) {
		return nil
	}
	return err
}

func commentRows(reportID uuid.UUID, comments []Comment) []*types.Comment {
	rows := make([]*types.Comment, 0, len(comments))
	for _, c := range comments {
		rows = append(rows, &types.Comment{
			ReportID:   reportID,
			CommentKey: c.ID,
			Text:       c.Text,
			Agrees:     c.Agrees,
			Disagrees:  c.Disagrees,
			Passes:     c.Passes,
			Topic:      c.Topic,
			Subtopic:   c.Subtopic,
		})
	}
	return rows
}
